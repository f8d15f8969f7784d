// Package capture provides camera capture and motion gating using GoCV (OpenCV).
package capture

import (
	"errors"
	"sync"

	"gocv.io/x/gocv"
)

// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
var ErrCameraNotOpen = errors.New("camera is not open")

// ErrEmptyFrame is returned when the device produced no image.
var ErrEmptyFrame = errors.New("captured frame is empty")

// Settings describes the capture device. Changing them requires reopening the camera.
type Settings struct {
	DeviceID int
	Width    int
	Height   int
	FPS      int
}

// DefaultSettings returns 640x480 at 30 fps on the first device.
func DefaultSettings() Settings {
	return Settings{DeviceID: 0, Width: 640, Height: 480, FPS: 30}
}

// Camera defines the interface for camera capture implementations.
type Camera interface {
	Open() error
	Close() error
	// ReadFrame reads one frame. The caller owns the returned Mat.
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

type cameraImpl struct {
	settings Settings
	capture  *gocv.VideoCapture
	mu       sync.Mutex
}

// NewCamera creates a Camera for the given settings. The device is opened by Open.
func NewCamera(settings Settings) Camera {
	if settings.FPS <= 0 {
		settings.FPS = DefaultSettings().FPS
	}
	return &cameraImpl{settings: settings}
}

func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture != nil {
		return nil
	}

	vc, err := gocv.OpenVideoCapture(c.settings.DeviceID)
	if err != nil {
		return err
	}
	if c.settings.Width > 0 && c.settings.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.settings.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.settings.Height))
	}
	vc.Set(gocv.VideoCaptureFPS, float64(c.settings.FPS))

	c.capture = vc
	return nil
}

func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil
	}
	err := c.capture.Close()
	c.capture = nil
	return err
}

func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, ErrEmptyFrame
	}
	return &mat, nil
}

// SetFPS changes the requested capture rate. Values less than or equal to 0 are ignored.
func (c *cameraImpl) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.settings.FPS = fps
	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

func (c *cameraImpl) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.FPS
}

func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture != nil
}
