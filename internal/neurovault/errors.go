package neurovault

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrPublishFailed is the coarse failure every publish error reports.
var ErrPublishFailed = errors.New("error uploading: perhaps a collection with the same name already exists?")

// Stage identifies which remote call failed.
type Stage string

const (
	StageCreateCollection Stage = "create_collection"
	StageAddImage         Stage = "add_image"
)

// PublishError is returned for any failure while talking to the remote
// repository. Its message is deliberately generic; the cause is kept for
// diagnostics.
type PublishError struct {
	Stage Stage
	Index int    // image position, add_image only
	Image string // image file name, add_image only
	Err   error
}

func (e *PublishError) Error() string { return ErrPublishFailed.Error() }

func (e *PublishError) Unwrap() error { return e.Err }

func (e *PublishError) Is(target error) bool { return target == ErrPublishFailed }

// Detail describes the failure including its cause.
func (e *PublishError) Detail() string {
	if e.Stage == StageAddImage {
		return fmt.Sprintf("%s[%d] %s: %v", e.Stage, e.Index, e.Image, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// ContrastPattern extracts the contrast name from an image file name. The
// first group is required.
var ContrastPattern = regexp.MustCompile(`contrast-(.*)_`)

// ParsingError reports an image name that does not carry a contrast.
type ParsingError struct {
	Name    string
	Pattern string
}

func (e *ParsingError) Error() string {
	return fmt.Sprintf("no contrast in %q (pattern %s)", e.Name, e.Pattern)
}

// ParseContrast returns the contrast encoded in an image file name.
func ParseContrast(name string) (string, error) {
	m := ContrastPattern.FindStringSubmatch(name)
	if m == nil {
		return "", &ParsingError{Name: name, Pattern: ContrastPattern.String()}
	}
	return m[1], nil
}
