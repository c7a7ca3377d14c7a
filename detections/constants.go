package detections

const (
	// InputWidth and InputHeight are used when a model declares dynamic input dims.
	InputWidth  = 640
	InputHeight = 640

	DefaultConfThreshold = 0.5
	DefaultIoUThreshold  = 0.45
	DefaultMaxDetections = 1000

	// SegmentationMaskCoeffs is the number of mask coefficients appended to each
	// prediction by segmentation exports.
	SegmentationMaskCoeffs = 32

	predictionChunkSize = 512
)
