// Package haarcascade segments people by detecting their faces with an
// OpenCV Haar cascade classifier and extrapolating the silhouette below
// each face. The detector itself is built only with the "with_cv" tag.
package haarcascade

import (
	"image"

	"github.com/xaionaro-go/avbackground/segmentation"
)

const (
	// headScale is how much wider than the detected face the head is drawn.
	headScale = 1.4

	// shoulderScale is the width of the torso relative to the face.
	shoulderScale = 3.0
)

// personMask marks a head and a torso for every face: the head is an
// ellipse around the face, the torso is a rectangle starting at the chin
// and reaching the bottom of the frame.
func personMask(size image.Point, faces []image.Rectangle) *image.Alpha {
	mask := image.NewAlpha(image.Rect(0, 0, size.X, size.Y))
	bounds := mask.Bounds()
	for _, face := range faces {
		face = face.Intersect(bounds)
		if face.Empty() {
			continue
		}
		fillEllipse(mask, face.Min.Add(face.Size().Div(2)), float64(face.Dx())*headScale/2, float64(face.Dy())*headScale/2)

		center := (face.Min.X + face.Max.X) / 2
		half := int(float64(face.Dx()) * shoulderScale / 2)
		torso := image.Rect(center-half, face.Max.Y, center+half, size.Y).Intersect(bounds)
		fillRect(mask, torso)
	}
	return mask
}

func fillRect(mask *image.Alpha, r image.Rectangle) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := mask.Pix[mask.PixOffset(r.Min.X, y):mask.PixOffset(r.Max.X, y)]
		for i := range row {
			row[i] = segmentation.AlphaForeground
		}
	}
}

func fillEllipse(mask *image.Alpha, center image.Point, rx, ry float64) {
	if rx <= 0 || ry <= 0 {
		return
	}
	r := image.Rect(
		center.X-int(rx), center.Y-int(ry),
		center.X+int(rx)+1, center.Y+int(ry)+1,
	).Intersect(mask.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		dy := (float64(y) - float64(center.Y)) / ry
		for x := r.Min.X; x < r.Max.X; x++ {
			dx := (float64(x) - float64(center.X)) / rx
			if dx*dx+dy*dy <= 1 {
				mask.Pix[mask.PixOffset(x, y)] = segmentation.AlphaForeground
			}
		}
	}
}
