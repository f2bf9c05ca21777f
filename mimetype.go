package glycin

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// rawExtensions supplements the system extension table with types the
// content sniff cannot tell apart, chiefly camera raw formats sharing
// the TIFF container.
var rawExtensions = map[string]string{
	".nef":  "image/x-nikon-nef",
	".nrw":  "image/x-nikon-nrw",
	".cr2":  "image/x-canon-cr2",
	".cr3":  "image/x-canon-cr3",
	".crw":  "image/x-canon-crw",
	".arw":  "image/x-sony-arw",
	".sr2":  "image/x-sony-sr2",
	".dng":  "image/x-adobe-dng",
	".orf":  "image/x-olympus-orf",
	".raf":  "image/x-fuji-raf",
	".rw2":  "image/x-panasonic-rw2",
	".pef":  "image/x-pentax-pef",
	".srw":  "image/x-samsung-srw",
	".svg":  "image/svg+xml",
	".svgz": "image/svg+xml",
}

// guessMimeType sniffs the media type from the first source chunk,
// falling back to the file name where content alone misleads: TIFF
// containers may actually be a raw format, and SVG with a long leading
// comment sniffs as plain XML.
func guessMimeType(head []byte, filename string) (string, *Error) {
	detected := mimetype.Detect(head)
	mt := baseType(detected.String())

	// The sniffer's terminal fallbacks mean it did not recognize the
	// content.
	unsure := mt == "application/octet-stream" || mt == "text/plain" || mt == ""
	isTiff := mt == "image/tiff"
	isXML := mt == "text/xml" || mt == "application/xml"

	if (unsure || isTiff || isXML) && filename != "" {
		if byName := typeByName(filename); byName != "" {
			return byName, nil
		}
	}

	if unsure {
		return "", &Error{Kind: KindUnknownMediaType, MimeType: mt}
	}
	return mt, nil
}

func typeByName(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return ""
	}
	if mt, ok := rawExtensions[ext]; ok {
		return mt
	}
	return baseType(mime.TypeByExtension(ext))
}

// baseType strips any parameters from a media type designator.
func baseType(mt string) string {
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.TrimSpace(mt)
}
