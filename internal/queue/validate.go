package queue

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// validate returns nil when the file may be enqueued.
func (o Options) validate(file FileRef) *Rejection {
	reject := func(reason RejectReason, format string, args ...any) *Rejection {
		return &Rejection{File: file, Reason: reason, Message: fmt.Sprintf(format, args...)}
	}

	if strings.TrimSpace(file.Name) == "" {
		return reject(RejectInvalid, "file has no name")
	}
	if file.Open == nil && file.Path == "" {
		return reject(RejectInvalid, "%s has no content source", file.Name)
	}
	if file.Size < 0 {
		return reject(RejectInvalid, "%s reports a negative size", file.Name)
	}
	if !o.allowedType(file.MIMEType) {
		mime := strings.TrimSpace(file.MIMEType)
		if mime == "" {
			mime = "unknown"
		}
		return reject(RejectUnsupportedType, "%s is not an image or video (type %s)", file.Name, mime)
	}
	if file.Size > o.MaxFileSize {
		return reject(RejectTooLarge, "%s is %s, over the %s limit",
			file.Name, humanize.IBytes(uint64(file.Size)), humanize.IBytes(uint64(o.MaxFileSize)))
	}
	return nil
}

func (o Options) allowedType(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if mime == "" {
		return false
	}
	for _, prefix := range o.AllowedTypes {
		if strings.HasPrefix(mime, prefix) {
			return true
		}
	}
	return false
}
