package detect

import (
	"fmt"
	"image"
	"os"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/sightline-data/sightline/internal/camera"
	"github.com/sightline-data/sightline/internal/monitoring"
)

// inputSize is the square network input resolution. Frames are resized
// (not letterboxed) to this size; box coordinates are scaled back to the
// original frame on output.
const inputSize = 416

// DNNDetector runs a YOLO-family model through OpenCV's DNN module. One
// instance serves one session worker; the underlying net is not safe for
// concurrent forward passes so Infer is serialized with a mutex.
type DNNDetector struct {
	mu     sync.Mutex
	net    gocv.Net
	labels []string
	closed bool
}

// NewDNNDetector loads the model weights and config and the class label
// list (one label per line). A CUDA backend is attempted first and falls
// back to CPU if unavailable.
func NewDNNDetector(weightsPath, configPath, labelsPath string) (*DNNDetector, error) {
	labels, err := loadLabels(labelsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	net := gocv.ReadNet(weightsPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("%w: read %s / %s", ErrModelUnavailable, weightsPath, configPath)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendCUDA); err != nil {
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
		monitoring.Diagf("[Detect] CUDA backend unavailable, using CPU")
	} else {
		net.SetPreferableTarget(gocv.NetTargetCUDA)
		monitoring.Diagf("[Detect] using CUDA backend")
	}

	return &DNNDetector{net: net, labels: labels}, nil
}

func loadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var labels []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			labels = append(labels, line)
		}
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("no labels in %s", path)
	}
	return labels, nil
}

// Infer runs one forward pass. The frame's BGR24 buffer is wrapped in a Mat
// without copying; all Mats are released before return.
func (d *DNNDetector) Infer(f *camera.Frame, confThreshold, iouThreshold float32) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrModelUnavailable
	}

	img, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
	if err != nil {
		return nil, fmt.Errorf("wrap frame: %w", err)
	}
	defer img.Close()

	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(inputSize, inputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	return d.parseOutput(output, f.Width, f.Height, confThreshold, iouThreshold), nil
}

// parseOutput decodes rows of [cx cy w h obj class0 class1 ...] in
// normalized coordinates, scales boxes to frame pixels and applies NMS.
func (d *DNNDetector) parseOutput(output gocv.Mat, frameW, frameH int, confThreshold, iouThreshold float32) []Detection {
	var (
		boxes   []image.Rectangle
		scores  []float32
		classes []int
	)

	for i := 0; i < output.Rows(); i++ {
		row := output.RowRange(i, i+1)
		data := row.Clone()
		scoresMat := data.ColRange(5, data.Cols())
		_, maxVal, _, maxLoc := gocv.MinMaxLoc(scoresMat)
		classID := maxLoc.X
		confidence := float32(maxVal)

		if confidence >= confThreshold {
			cx := data.GetFloatAt(0, 0) * float32(frameW)
			cy := data.GetFloatAt(0, 1) * float32(frameH)
			w := data.GetFloatAt(0, 2) * float32(frameW)
			h := data.GetFloatAt(0, 3) * float32(frameH)
			boxes = append(boxes, image.Rect(
				int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2)))
			scores = append(scores, confidence)
			classes = append(classes, classID)
		}

		scoresMat.Close()
		data.Close()
		row.Close()
	}

	if len(boxes) == 0 {
		return nil
	}

	keep := gocv.NMSBoxes(boxes, scores, confThreshold, iouThreshold)
	dets := make([]Detection, 0, len(keep))
	for _, idx := range keep {
		label := ""
		if classes[idx] < len(d.labels) {
			label = d.labels[classes[idx]]
		}
		b := boxes[idx]
		dets = append(dets, Detection{
			Label:      label,
			Confidence: scores[idx],
			X1:         float32(b.Min.X),
			Y1:         float32(b.Min.Y),
			X2:         float32(b.Max.X),
			Y2:         float32(b.Max.Y),
		})
	}
	return dets
}

// Close releases the network. Safe to call more than once.
func (d *DNNDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.net.Close()
}
