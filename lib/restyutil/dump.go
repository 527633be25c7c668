// Package restyutil writes full http exchanges to disk for debugging scrapers.
package restyutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

type Output interface {
	Write(id string, contents string) error
}

// DirOutput writes each message to its own file in a directory.
type DirOutput struct {
	directory string
}

// NewDirOutput creates the directory if it doesn't exist, existing dumps are
// left in place.
func NewDirOutput(dir string) (DirOutput, error) {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return DirOutput{}, err
	}
	return DirOutput{directory: dir}, nil
}

func (o DirOutput) Write(id string, contents string) error {
	return os.WriteFile(filepath.Join(o.directory, id), []byte(contents), 0600)
}

// Dump writes every response the client receives to output, onError is called
// when a dump cannot be written, it may be nil.
func Dump(client *resty.Client, output Output, onError func(err error)) {
	var counter uint64
	prefix := fmt.Sprintf("%d", os.Getpid())

	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		id := fmt.Sprintf("%s-%04d.txt", prefix, atomic.AddUint64(&counter, 1))
		err := output.Write(id, FormatMessage(res))
		if err != nil && onError != nil {
			onError(err)
		}
		return nil
	})
}
