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

package dataset

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/gorse-io/rectool/base/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// TransformCSV converts a file delimited by separator into a comma separated file with the given header.
// Every input line becomes one output row with its fields as split, whatever their number. Invalid UTF-8
// bytes are dropped and fields containing commas or quotes are quoted. A blank line is written as a single
// empty quoted field so that it still counts as a row. When skipFirst is set the first input line is
// treated as a header and discarded.
func TransformCSV(inputPath, outputPath string, names []string, skipFirst bool, separator string) error {
	if separator == "" {
		return errors.NotValidf("empty separator")
	}
	input, err := os.Open(inputPath)
	if err != nil {
		return errors.Trace(err)
	}
	defer input.Close()
	output, err := os.Create(outputPath)
	if err != nil {
		return errors.Trace(err)
	}
	rows, err := transform(bufio.NewReader(input), output, names, skipFirst, separator)
	if err != nil {
		_ = output.Close()
		return errors.Trace(err)
	}
	log.Logger().Info("transform file",
		zap.String("input", inputPath),
		zap.String("output", outputPath),
		zap.Int("rows", rows))
	return errors.Trace(output.Close())
}

// transform writes the header and one row per line read and returns the number of rows.
func transform(reader *bufio.Reader, output io.Writer, names []string, skipFirst bool, separator string) (int, error) {
	buffered := bufio.NewWriter(output)
	writer := csv.NewWriter(buffered)
	if err := writer.Write(names); err != nil {
		return 0, errors.Trace(err)
	}
	rows := 0
	for line := 1; ; line++ {
		text, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return 0, errors.Trace(err)
		}
		if err == io.EOF && text == "" {
			break
		}
		if line > 1 || !skipFirst {
			text = strings.TrimRight(strings.ToValidUTF8(text, ""), "\r\n")
			if text == "" {
				// csv.Writer emits nothing for a lone empty field
				writer.Flush()
				if _, err := buffered.WriteString("\"\"\n"); err != nil {
					return 0, errors.Trace(err)
				}
			} else if err := writer.Write(strings.Split(text, separator)); err != nil {
				return 0, errors.Trace(err)
			}
			rows++
		}
		if err == io.EOF {
			break
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return rows, errors.Trace(err)
	}
	return rows, errors.Trace(buffered.Flush())
}
