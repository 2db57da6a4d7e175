package chain

import (
	"github.com/TheYoke/pngbin/aescbc"
	"github.com/TheYoke/pngbin/pngenv"
	"github.com/TheYoke/pngbin/pngerr"
	"github.com/sirupsen/logrus"
)

// slotWriter is the shared surface of pngenv.Writer and aescbc.Writer that
// Writer drives; it does not care which one backs the current slot.
type slotWriter interface {
	Write([]byte) (int, error)
	Finish() error
	BytesLeft() int64
}

// OnWriterCreated is invoked once per slot, right after its inner writer is
// constructed, so a caller can record the key/IV an encrypted slot was
// given (or had generated for it) before the slot starts filling up.
type OnWriterCreated func(d Descriptor, key, iv []byte)

// Writer concatenates a sequence of PNG slots, pulled lazily from an
// Iterator, into one logical append-only byte stream. It does not open the
// first slot until the first Write.
type Writer struct {
	next      Iterator
	onCreated OnWriterCreated
	log       *logrus.Entry

	cur      slotWriter
	slot     int
	finished bool
}

// NewWriter constructs a Writer over the slots next yields. onCreated may
// be nil.
func NewWriter(next Iterator, onCreated OnWriterCreated) *Writer {
	return &Writer{
		next:      next,
		onCreated: onCreated,
		log:       logrus.WithField("component", "chain.Writer"),
		slot:      -1,
	}
}

// Write forwards data across as many slots as it takes to accept it all,
// opening new slots from the Iterator on demand. It returns EndOfStream if
// the Iterator is exhausted before data is fully written.
func (w *Writer) Write(data []byte) (int, error) {
	if w.finished {
		return 0, pngerr.New("chain.Writer.Write", pngerr.AlreadyFinished)
	}

	var written int
	for len(data) > 0 {
		if w.cur == nil || w.cur.BytesLeft() == 0 {
			if err := w.openNext(); err != nil {
				return written, err
			}
		}
		n, err := w.cur.Write(data)
		written += n
		data = data[n:]
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (w *Writer) openNext() error {
	d, ok, err := w.next()
	if err != nil {
		return pngerr.Wrap(err, "chain.Writer.openNext", pngerr.EndOfStream)
	}
	if !ok {
		return pngerr.New("chain.Writer.openNext", pngerr.EndOfStream)
	}

	w.slot++
	var sw slotWriter
	var key, iv []byte
	if d.Key != nil {
		ew, err := aescbc.NewWriter(d.Width, d.Height, d.Sink, d.Key, d.IV, true)
		if err != nil {
			return err
		}
		sw, key, iv = ew, ew.Key, ew.IV
	} else {
		pw, err := pngenv.NewWriter(d.Width, d.Height, d.Sink, true)
		if err != nil {
			return err
		}
		sw = pw
	}
	w.cur = sw
	w.log.WithFields(logrus.Fields{"slot": w.slot, "width": d.Width, "height": d.Height}).Debug("opened slot")
	if w.onCreated != nil {
		w.onCreated(d, key, iv)
	}
	return nil
}

// Finish finalizes the current slot, padding its remaining capacity with
// zero bytes. It is idempotent; subsequent Write calls fail AlreadyFinished.
func (w *Writer) Finish() error {
	if w.finished {
		return nil
	}
	w.finished = true
	if w.cur == nil {
		return nil
	}
	return w.cur.Finish()
}
