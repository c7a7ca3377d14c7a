package detections

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/divyadrishti/detection-engine/models"
)

// outputLayout describes a [1, channels, predictions] detection head.
type outputLayout struct {
	channels    int
	predictions int
	numClasses  int
	inputWidth  int
	inputHeight int
}

func newOutputLayout(channels, predictions, inputWidth, inputHeight int, segmentation bool) (outputLayout, error) {
	numClasses := channels - 4
	if segmentation {
		numClasses -= SegmentationMaskCoeffs
	}
	if numClasses < 1 || predictions < 1 {
		return outputLayout{}, fmt.Errorf("unsupported output shape [1 %d %d]", channels, predictions)
	}
	return outputLayout{
		channels:    channels,
		predictions: predictions,
		numClasses:  numClasses,
		inputWidth:  inputWidth,
		inputHeight: inputHeight,
	}, nil
}

// processPredictions decodes the raw head into frame-space detections that
// survive the confidence, IoU and count bounds.
func processPredictions(predictions []float32, layout outputLayout, originalWidth, originalHeight int, opts RunOptions) ([]models.RawDetection, error) {
	n := layout.predictions
	expectedSize := layout.channels * n
	if len(predictions) != expectedSize {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(predictions), expectedSize)
	}

	numWorkers := runtime.NumCPU()
	jobs := make(chan int, numWorkers)
	results := make(chan []candidate, numWorkers)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]candidate, 0, 32)

			for start := range jobs {
				end := min(start+predictionChunkSize, n)
				for i := start; i < end; i++ {
					classID, confidence := bestClass(predictions, layout, i)
					if confidence < opts.Confidence {
						continue
					}
					local = append(local, candidate{
						box: calculateBBox(
							predictions[i],
							predictions[n+i],
							predictions[2*n+i],
							predictions[3*n+i],
							layout,
							float64(originalWidth),
							float64(originalHeight),
						),
						confidence: confidence,
						classID:    classID,
					})
				}
			}

			if len(local) > 0 {
				results <- local
			}
		}()
	}

	go func() {
		for i := 0; i < n; i += predictionChunkSize {
			jobs <- i
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var cands []candidate
	for chunk := range results {
		cands = append(cands, chunk...)
	}

	kept := nonMaxSuppression(cands, float64(opts.IoU), opts.MaxDetections)
	out := make([]models.RawDetection, 0, len(kept))
	for _, c := range kept {
		out = append(out, models.RawDetection{Box: c.box, Confidence: c.confidence, ClassID: c.classID})
	}
	return out, nil
}

func bestClass(predictions []float32, layout outputLayout, i int) (int, float32) {
	n := layout.predictions
	bestID, best := 0, float32(-1)
	for k := 0; k < layout.numClasses; k++ {
		if score := predictions[(4+k)*n+i]; score > best {
			bestID, best = k, score
		}
	}
	return bestID, best
}

// calculateBBox converts a center/size prediction in model input pixels into a
// clamped corner box in frame pixels.
func calculateBBox(cx, cy, w, h float32, layout outputLayout, origWidth, origHeight float64) models.Box {
	scaleX := origWidth / float64(layout.inputWidth)
	scaleY := origHeight / float64(layout.inputHeight)

	centerX, centerY := float64(cx), float64(cy)
	halfW, halfH := float64(w)/2, float64(h)/2

	box := models.Box{
		X1: (centerX - halfW) * scaleX,
		Y1: (centerY - halfH) * scaleY,
		X2: (centerX + halfW) * scaleX,
		Y2: (centerY + halfH) * scaleY,
	}
	return box.Normalize().Clamp(origWidth, origHeight)
}
