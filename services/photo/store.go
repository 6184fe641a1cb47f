package photosvc

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/trezcool/feedesk/core"
)

// Extensions lists the accepted photo formats.
var Extensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".gif"}

// Store copies student photos into a single directory, one file per student named after its ID.
type Store struct {
	fs  afero.Fs
	dir string
}

func NewStore(fs afero.Fs, conf *core.Config) *Store {
	return &Store{fs: fs, dir: conf.Storage.PhotoDir}
}

// Save copies the photo at srcPath and returns the reference to store on the student.
func (s *Store) Save(studentID, srcPath string) (string, error) {
	src, err := s.fs.Open(srcPath)
	if err != nil {
		return "", errors.Wrap(err, "opening photo")
	}
	defer src.Close()
	return s.SaveReader(studentID, filepath.Ext(srcPath), src)
}

// SaveReader stores r as `<dir>/<studentID><ext>`, replacing any previous photo with the same extension.
func (s *Store) SaveReader(studentID, ext string, r io.Reader) (string, error) {
	studentID = core.CleanString(studentID)
	if studentID == "" || strings.ContainsAny(studentID, `/\`) || studentID == "." || studentID == ".." {
		return "", core.NewValidationError(nil, core.FieldError{Field: "student_id", Error: "cannot be used as a file name"})
	}
	ext = strings.ToLower(ext)
	if !isAllowed(ext) {
		return "", core.NewValidationError(nil, core.FieldError{
			Field: "photo",
			Error: "unsupported format, use one of: " + strings.Join(Extensions, " "),
		})
	}

	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return "", errors.Wrap(err, "creating photo directory")
	}
	dest := filepath.Join(s.dir, studentID+ext)
	if err := afero.WriteReader(s.fs, dest, r); err != nil {
		return "", errors.Wrap(err, "copying photo")
	}
	return dest, nil
}

func isAllowed(ext string) bool {
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}
