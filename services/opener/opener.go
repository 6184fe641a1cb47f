package openersvc

import (
	"net/url"
	"path/filepath"

	"github.com/pkg/browser"

	"github.com/trezcool/feedesk/core"
)

var (
	// mockable
	openFileFunc = browser.OpenFile
	openURLFunc  = browser.OpenURL
)

// Opener hands generated files to the desktop's default application.
type Opener struct {
	logger core.Logger
}

func NewOpener(logger core.Logger) *Opener {
	return &Opener{logger: logger}
}

// Open never fails: errors are logged and the file stays where it is.
func (o *Opener) Open(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if err = openFileFunc(abs); err == nil {
		return true
	}

	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	if urlErr := openURLFunc(u.String()); urlErr != nil {
		o.logger.Warn("could not open "+abs, err, urlErr)
		return false
	}
	return true
}
