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
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/rectool/common/util"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

var (
	RatingsHeader = []string{"user_id", "item_id", "rating", "timestamp"}
	MoviesHeader  = []string{"item_id", "titles", "genres"}
)

type Rating struct {
	UserId    int
	ItemId    int
	Rating    float32
	Timestamp int64
}

type Movie struct {
	ItemId int
	Title  string
	Genres []string
}

// columns maps header names to column indices and fails if any required name is missing.
func columns(header, required []string, path string) ([]int, error) {
	indices := make([]int, len(required))
	for i, name := range required {
		indices[i] = lo.IndexOf(header, name)
		if indices[i] < 0 {
			return nil, errors.NotValidf("column %s in %s", name, path)
		}
	}
	return indices, nil
}

func readCSV(path string, required []string, fn func(line int, record []string, indices []int) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer f.Close()
	reader := csv.NewReader(f)
	reader.ReuseRecord = true
	header, err := reader.Read()
	if err != nil {
		return errors.Annotatef(err, "failed to read header of %s", path)
	}
	indices, err := columns(header, required, path)
	if err != nil {
		return err
	}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return errors.Trace(err)
		}
		if err = fn(line, record, indices); err != nil {
			return errors.Annotatef(err, "line %d of %s", line, path)
		}
	}
}

// LoadRatings reads a ratings CSV written by TransformCSV or WriteRatings.
func LoadRatings(path string) ([]Rating, error) {
	var ratings []Rating
	err := readCSV(path, RatingsHeader, func(_ int, record []string, indices []int) error {
		var (
			r   Rating
			err error
		)
		if r.UserId, err = strconv.Atoi(record[indices[0]]); err != nil {
			return errors.Trace(err)
		}
		if r.ItemId, err = strconv.Atoi(record[indices[1]]); err != nil {
			return errors.Trace(err)
		}
		if r.Rating, err = util.ParseFloat[float32](record[indices[2]]); err != nil {
			return errors.Trace(err)
		}
		if r.Timestamp, err = util.ParseInt[int64](record[indices[3]]); err != nil {
			return errors.Trace(err)
		}
		ratings = append(ratings, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ratings, nil
}

// LoadMovies reads a movies CSV written by TransformCSV.
func LoadMovies(path string) ([]Movie, error) {
	var movies []Movie
	err := readCSV(path, MoviesHeader, func(_ int, record []string, indices []int) error {
		itemId, err := strconv.Atoi(record[indices[0]])
		if err != nil {
			return errors.Trace(err)
		}
		movie := Movie{ItemId: itemId, Title: record[indices[1]]}
		if genres := record[indices[2]]; genres != "" {
			movie.Genres = strings.Split(genres, "|")
		}
		movies = append(movies, movie)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return movies, nil
}

// CountDistinct returns the number of distinct users and items.
func CountDistinct(ratings []Rating) (numUsers, numItems int) {
	users := mapset.NewThreadUnsafeSet[int]()
	items := mapset.NewThreadUnsafeSet[int]()
	for _, r := range ratings {
		users.Add(r.UserId)
		items.Add(r.ItemId)
	}
	return users.Cardinality(), items.Cardinality()
}

// WriteRatings writes ratings with the standard header.
func WriteRatings(path string, ratings []Rating) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	w := csv.NewWriter(f)
	if err = w.Write(RatingsHeader); err != nil {
		_ = f.Close()
		return errors.Trace(err)
	}
	record := make([]string, len(RatingsHeader))
	for _, r := range ratings {
		record[0] = strconv.Itoa(r.UserId)
		record[1] = strconv.Itoa(r.ItemId)
		record[2] = strconv.FormatFloat(float64(r.Rating), 'g', -1, 32)
		record[3] = strconv.FormatInt(r.Timestamp, 10)
		if err = w.Write(record); err != nil {
			_ = f.Close()
			return errors.Trace(err)
		}
	}
	w.Flush()
	if err = w.Error(); err != nil {
		_ = f.Close()
		return errors.Trace(err)
	}
	return errors.Trace(f.Close())
}
