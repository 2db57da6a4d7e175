package chain

import "github.com/TheYoke/pngbin/pngerr"

var errChainExhausted = pngerr.New("chain", pngerr.EndOfStream)
