package filetype

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

const PDF = "application/pdf"

// Info contains detected file type information
type Info struct {
	MIMEType    string
	Extension   string
	Printable   bool
	Description string
}

// Detect detects the actual file type using magic bytes, not filename
func Detect(filePath string) (*Info, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}
	log.Debug().Str("mime", mtype.String()).Str("ext", mtype.Extension()).Str("file", filePath).Msg("detected file type")
	return classify(mtype), nil
}

// DetectBytes classifies an in-memory header, e.g. the first bytes of an upload.
func DetectBytes(head []byte) *Info {
	return classify(mimetype.Detect(head))
}

func classify(mtype *mimetype.MIME) *Info {
	info := &Info{MIMEType: mtype.String(), Extension: mtype.Extension()}
	switch {
	case mtype.Is(PDF):
		info.Printable = true
		info.Description = "PDF document"
	case mtype.Is("application/postscript"):
		info.Description = "PostScript document (convert to PDF first)"
	default:
		info.Description = fmt.Sprintf("Unsupported file type: %s", mtype.String())
	}
	return info
}
