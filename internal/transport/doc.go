// Package transport implements the upload destinations behind
// queue.Uploader.
//
// HTTPUploader streams each file as a multipart POST to the photo server's
// batch upload endpoint and maps the per-file result onto the services error
// markers. LibraryUploader copies files into a local date-organised library,
// skipping content that is already present. New selects between them from
// configuration.
package transport
