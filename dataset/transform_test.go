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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestTransformCSV(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "movies.dat")
	output := filepath.Join(dir, "movies.csv")
	assert.NoError(t, os.WriteFile(input, []byte("1::Toy Story (1995)::Animation|Children's|Comedy\n"+
		"11::American President, The (1995)::Comedy|Drama|Romance\r\n"+
		"73::Mis\xe9rables, Les (1995)::Drama|Musical\n"), 0644))
	assert.NoError(t, TransformCSV(input, output, MoviesHeader, false, Separator))
	data, err := os.ReadFile(output)
	assert.NoError(t, err)
	assert.Equal(t, "item_id,titles,genres\n"+
		"1,Toy Story (1995),Animation|Children's|Comedy\n"+
		"11,\"American President, The (1995)\",Comedy|Drama|Romance\n"+
		"73,\"Misrables, Les (1995)\",Drama|Musical\n", string(data))

	movies, err := LoadMovies(output)
	assert.NoError(t, err)
	assert.Len(t, movies, 3)
	assert.Equal(t, "American President, The (1995)", movies[1].Title)
}

func TestTransformCSV_RowCount(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "ratings.dat")
	output := filepath.Join(dir, "ratings.csv")
	var builder strings.Builder
	builder.WriteString("UserID::MovieID::Rating::Timestamp\n")
	for i := 0; i < 100; i++ {
		builder.WriteString("1::2::3::4\n")
	}
	assert.NoError(t, os.WriteFile(input, []byte(builder.String()), 0644))
	assert.NoError(t, TransformCSV(input, output, RatingsHeader, true, Separator))
	ratings, err := LoadRatings(output)
	assert.NoError(t, err)
	assert.Len(t, ratings, 100)

	assert.NoError(t, TransformCSV(input, output, RatingsHeader, false, Separator))
	_, err = LoadRatings(output)
	assert.Error(t, err)
}

func TestTransformCSV_AnyShape(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "ratings.dat")
	output := filepath.Join(dir, "ratings.csv")
	assert.NoError(t, os.WriteFile(input, []byte("a::b\n\nc::d::e\nf"), 0644))
	assert.NoError(t, TransformCSV(input, output, []string{"x", "y"}, false, Separator))
	data, err := os.ReadFile(output)
	assert.NoError(t, err)
	assert.Equal(t, "x,y\na,b\n\"\"\nc,d,e\nf\n", string(data))
	assert.Len(t, strings.Split(strings.TrimSuffix(string(data), "\n"), "\n"), 5)

	// ragged rows are rejected when loaded
	assert.NoError(t, TransformCSV(input, output, RatingsHeader, false, Separator))
	_, err = LoadRatings(output)
	assert.Error(t, err)
}

func TestTransformCSV_LongLine(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "movies.dat")
	output := filepath.Join(dir, "movies.csv")
	title := strings.Repeat("x", 2*1024*1024)
	assert.NoError(t, os.WriteFile(input, []byte("1::"+title+"::Drama\n2::Heat (1995)::Action\n"), 0644))
	assert.NoError(t, TransformCSV(input, output, MoviesHeader, false, Separator))
	movies, err := LoadMovies(output)
	assert.NoError(t, err)
	assert.Len(t, movies, 2)
	assert.Equal(t, title, movies[0].Title)
	assert.Equal(t, "Heat (1995)", movies[1].Title)
}

func TestTransformCSV_Invalid(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "ratings.dat")
	assert.NoError(t, os.WriteFile(input, []byte("1::2::3::4\n"), 0644))
	err := TransformCSV(input, filepath.Join(dir, "ratings.csv"), RatingsHeader, false, "")
	assert.True(t, errors.Is(err, errors.NotValid))
	err = TransformCSV(filepath.Join(dir, "missing.dat"), filepath.Join(dir, "ratings.csv"), RatingsHeader, false, Separator)
	assert.Error(t, err)
}
