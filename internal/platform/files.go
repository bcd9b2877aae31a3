// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

// Package platform provides the host-side file and process services
// handed to extensions.
package platform

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/samber/oops"

	"github.com/modhaven/modhaven/pkg/extension"
)

// CodeFileOperation marks file service failures.
const CodeFileOperation = "FILE_OPERATION_FAILED"

// Files implements extension.FileService on the local filesystem.
type Files struct{}

// NewFiles creates the local file service.
func NewFiles() *Files {
	return &Files{}
}

var _ extension.FileService = (*Files)(nil)

// Copy copies src to dst, creating parent directories as needed. The copy
// is aborted when ctx is cancelled before it starts.
func (f *Files) Copy(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return oops.Code(CodeFileOperation).With("src", src).Wrap(err)
	}

	in, err := os.Open(src)
	if err != nil {
		return oops.Code(CodeFileOperation).With("src", src).Wrapf(err, "open source")
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return oops.Code(CodeFileOperation).With("dst", dst).Wrapf(err, "create destination directory")
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return oops.Code(CodeFileOperation).With("dst", dst).Wrapf(err, "open destination")
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return oops.Code(CodeFileOperation).With("src", src).With("dst", dst).Wrapf(err, "copy")
	}
	if err := out.Close(); err != nil {
		return oops.Code(CodeFileOperation).With("dst", dst).Wrapf(err, "close destination")
	}
	return nil
}

// Remove deletes a file. Removing a missing file is not an error.
func (f *Files) Remove(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return oops.Code(CodeFileOperation).With("path", path).Wrapf(err, "remove")
	}
	return nil
}

// Exists reports whether the path exists.
func (f *Files) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, oops.Code(CodeFileOperation).With("path", path).Wrapf(err, "stat")
}
