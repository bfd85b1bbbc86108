package builder

import (
	"archive/zip"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xekr/packsmith/internal/domain"
	"github.com/xekr/packsmith/internal/filetree"
)

// archiveEpoch is stamped on every entry so equal trees give equal archives
var archiveEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Emit writes the children of root into a zip archive on w. Folders at or
// under the namespace root excluded by t are left out.
func Emit(w io.Writer, root *filetree.Tree, t domain.PackType) error {
	zw := zip.NewWriter(w)
	exclude := t.Excludes()

	var emitErr error
	filetree.Walk(root, func(n filetree.Node) bool {
		if emitErr != nil {
			return false
		}

		switch v := n.(type) {
		case *filetree.Tree:
			if v == root || v.Path == "" {
				return true
			}
			if exclude != "" && (v.Path == exclude || strings.HasPrefix(v.Path, exclude+"/")) {
				return false
			}
			_, emitErr = zw.CreateHeader(&zip.FileHeader{
				Name:     v.Path + "/",
				Method:   zip.Store,
				Modified: archiveEpoch,
			})
			return emitErr == nil

		case *filetree.Leaf:
			var fw io.Writer
			fw, emitErr = zw.CreateHeader(&zip.FileHeader{
				Name:     v.Path,
				Method:   zip.Deflate,
				Modified: archiveEpoch,
			})
			if emitErr == nil {
				_, emitErr = fw.Write(v.Content)
			}
		}
		return false
	})

	if emitErr != nil {
		_ = zw.Close()
		return domain.NewAppErrorWithCause(domain.ErrEmitFailed, "Failed to write archive", http.StatusInternalServerError, emitErr, nil)
	}
	if err := zw.Close(); err != nil {
		return domain.NewAppErrorWithCause(domain.ErrEmitFailed, "Failed to finish archive", http.StatusInternalServerError, err, nil)
	}
	return nil
}
