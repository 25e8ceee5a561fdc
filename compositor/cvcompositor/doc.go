// Package cvcompositor is the OpenCV realization of the compositor: the
// frame, the background and the mask are blended as floating point
// matrices. It is built only with the "with_cv" tag.
package cvcompositor
