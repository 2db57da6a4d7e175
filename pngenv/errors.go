package pngenv

import "github.com/TheYoke/pngbin/pngerr"

var (
	errInvalidDimensions = pngerr.New("pngenv", pngerr.InvalidArgument)
	errIDATTooLarge      = pngerr.New("pngenv", pngerr.InvalidArgument)
)
