package camera

import (
	"fmt"

	"gocv.io/x/gocv"
)

// EncodeJPEG compresses a frame's BGR24 buffer to JPEG. Used for preview
// payloads and peer-media sinks; the frame itself is not modified.
func EncodeJPEG(f *Frame) ([]byte, error) {
	img, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
	if err != nil {
		return nil, fmt.Errorf("wrap frame: %w", err)
	}
	defer img.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
