package types

import (
	"fmt"
	"image"
)

// BackgroundRefBlur is the background reference which selects the blur
// mode instead of a substitute image.
const BackgroundRefBlur = "blur"

// DefaultBlurRadius is the radius (in output pixels) of the Gaussian blur
// applied to the background copy of the frame.
const DefaultBlurRadius = 8.0

type BackgroundKind int

const (
	BackgroundKindUndefined = BackgroundKind(iota)
	BackgroundKindImage
	BackgroundKindBlur
)

func (k BackgroundKind) String() string {
	switch k {
	case BackgroundKindUndefined:
		return "undefined"
	case BackgroundKindImage:
		return "image"
	case BackgroundKindBlur:
		return "blur"
	default:
		return fmt.Sprintf("unknown_kind_%d", int(k))
	}
}

// BackgroundSpec describes the substitute background. Specs are immutable
// once published: a change is always a replacement of the whole value.
type BackgroundSpec struct {
	Kind BackgroundKind

	// Ref is where the image came from (a path); informational only.
	Ref string

	// Image is the decoded substitute background for BackgroundKindImage.
	Image image.Image

	// BlurRadius is used for BackgroundKindBlur.
	BlurRadius float64
}

func BackgroundBlur(radius float64) *BackgroundSpec {
	return &BackgroundSpec{
		Kind:       BackgroundKindBlur,
		Ref:        BackgroundRefBlur,
		BlurRadius: radius,
	}
}

func BackgroundImage(ref string, img image.Image) *BackgroundSpec {
	return &BackgroundSpec{
		Kind:  BackgroundKindImage,
		Ref:   ref,
		Image: img,
	}
}

func (s *BackgroundSpec) Validate() error {
	if s == nil {
		return fmt.Errorf("background spec is nil")
	}
	switch s.Kind {
	case BackgroundKindBlur:
		if s.BlurRadius < 0 {
			return fmt.Errorf("blur radius must not be negative, got %v", s.BlurRadius)
		}
	case BackgroundKindImage:
		if s.Image == nil {
			return fmt.Errorf("image background '%s' has no decoded image", s.Ref)
		}
		if s.Image.Bounds().Empty() {
			return fmt.Errorf("image background '%s' is empty", s.Ref)
		}
	default:
		return fmt.Errorf("unexpected background kind: %s", s.Kind)
	}
	return nil
}

func (s *BackgroundSpec) String() string {
	if s == nil {
		return "<nil>"
	}
	switch s.Kind {
	case BackgroundKindBlur:
		return fmt.Sprintf("Blur(%v)", s.BlurRadius)
	case BackgroundKindImage:
		return fmt.Sprintf("Image(%s)", s.Ref)
	default:
		return s.Kind.String()
	}
}
