// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package blob

import (
	"io"

	"github.com/gorse-io/rectool/config"
	"github.com/juju/errors"
)

// Store keeps model artifacts by name.
type Store interface {
	Open(name string) (io.ReadCloser, error)
	// Create returns a writer of a new object. The channel is closed once the object is persisted.
	// Close waits for the upload and returns its error.
	Create(name string) (io.WriteCloser, chan struct{}, error)
	List() ([]string, error)
	Remove(name string) error
}

// Open creates the store selected by cfg.Type.
func Open(cfg config.BlobConfig) (Store, error) {
	switch cfg.Type {
	case "posix":
		return NewPOSIX(cfg.Posix.Path), nil
	case "s3":
		return NewS3(cfg.S3)
	case "gcs":
		return NewGCS(cfg.GCS)
	case "azure":
		return NewAzureBlob(cfg.Azure)
	}
	return nil, errors.NotSupportedf("blob store %s", cfg.Type)
}

// pipeUpload streams writes to upload running in a goroutine.
func pipeUpload(upload func(r io.Reader) error) (io.WriteCloser, chan struct{}) {
	pr, pw := io.Pipe()
	w := &pipeWriter{PipeWriter: pw, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		w.err = upload(pr)
		// unblock writers if upload stopped early
		_ = pr.CloseWithError(w.err)
	}()
	return w, w.done
}

type pipeWriter struct {
	*io.PipeWriter
	done chan struct{}
	err  error
}

func (w *pipeWriter) Close() error {
	if err := w.PipeWriter.Close(); err != nil {
		return errors.Trace(err)
	}
	<-w.done
	return errors.Trace(w.err)
}
