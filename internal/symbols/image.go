package symbols

import (
	"io"

	"github.com/Binject/debug/pe"
	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

// image is an on-disk module that can translate RVAs into file offsets.
type image interface {
	io.ReaderAt
	io.Closer
	Len() int
	Offset(rva uint32) (int64, error)
}

type section struct {
	va, vsize uint32
	off, size uint32
}

type peImage struct {
	*mmap.ReaderAt
	sections []section
}

// openPE maps path read-only and parses its section table.
func openPE(path string) (*peImage, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map %s", path)
	}
	f, err := pe.NewFile(r)
	if err != nil {
		r.Close()
		return nil, errors.Wrapf(err, "failed to parse PE %s", path)
	}
	img := &peImage{ReaderAt: r}
	for _, s := range f.Sections {
		img.sections = append(img.sections, section{
			va:    s.VirtualAddress,
			vsize: s.VirtualSize,
			off:   s.Offset,
			size:  s.Size,
		})
	}
	if len(img.sections) == 0 {
		r.Close()
		return nil, errors.Errorf("%s has no sections", path)
	}
	return img, nil
}

// Offset converts rva to an offset into the file.
func (p *peImage) Offset(rva uint32) (int64, error) {
	for _, s := range p.sections {
		span := s.vsize
		if s.size > span {
			span = s.size
		}
		if rva < s.va || rva-s.va >= span {
			continue
		}
		delta := rva - s.va
		if delta >= s.size {
			// inside the section's zero-filled tail, no file backing
			return 0, errors.Wrapf(ErrOutOfBounds, "rva %#x has no file data", rva)
		}
		off := int64(s.off) + int64(delta)
		if off >= int64(p.Len()) {
			return 0, errors.Wrapf(ErrOutOfBounds, "rva %#x maps past end of file", rva)
		}
		return off, nil
	}
	return 0, errors.Wrapf(ErrBadRVA, "rva %#x is not inside any section", rva)
}
