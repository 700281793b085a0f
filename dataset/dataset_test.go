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
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestLoadRatings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratings.csv")
	assert.NoError(t, os.WriteFile(path, []byte("timestamp,rating,item_id,user_id\n978300760,5,1193,1\n978302109,3.5,661,1\n"), 0644))
	ratings, err := LoadRatings(path)
	assert.NoError(t, err)
	assert.Equal(t, []Rating{
		{UserId: 1, ItemId: 1193, Rating: 5, Timestamp: 978300760},
		{UserId: 1, ItemId: 661, Rating: 3.5, Timestamp: 978302109},
	}, ratings)

	// missing column
	assert.NoError(t, os.WriteFile(path, []byte("user_id,item_id\n1,2\n"), 0644))
	_, err = LoadRatings(path)
	assert.True(t, errors.Is(err, errors.NotValid))

	// malformed value
	assert.NoError(t, os.WriteFile(path, []byte("user_id,item_id,rating,timestamp\n1,x,5,0\n"), 0644))
	_, err = LoadRatings(path)
	assert.Error(t, err)

	_, err = LoadRatings(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestLoadMovies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "movies.csv")
	assert.NoError(t, os.WriteFile(path, []byte("item_id,titles,genres\n1,Toy Story (1995),Animation|Children's|Comedy\n"+
		"11,\"American President, The (1995)\",Comedy|Drama|Romance\n12,Unknown,\n"), 0644))
	movies, err := LoadMovies(path)
	assert.NoError(t, err)
	assert.Equal(t, []Movie{
		{ItemId: 1, Title: "Toy Story (1995)", Genres: []string{"Animation", "Children's", "Comedy"}},
		{ItemId: 11, Title: "American President, The (1995)", Genres: []string{"Comedy", "Drama", "Romance"}},
		{ItemId: 12, Title: "Unknown"},
	}, movies)
}

func TestCountDistinct(t *testing.T) {
	numUsers, numItems := CountDistinct([]Rating{
		{UserId: 1, ItemId: 10},
		{UserId: 1, ItemId: 11},
		{UserId: 2, ItemId: 10},
		{UserId: 3, ItemId: 12},
	})
	assert.Equal(t, 3, numUsers)
	assert.Equal(t, 3, numItems)
	numUsers, numItems = CountDistinct(nil)
	assert.Zero(t, numUsers)
	assert.Zero(t, numItems)
}

func TestWriteRatings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratings.csv")
	ratings := []Rating{
		{UserId: 1, ItemId: 2, Rating: 4.5, Timestamp: 100},
		{UserId: 3, ItemId: 4, Rating: 1, Timestamp: 200},
	}
	assert.NoError(t, WriteRatings(path, ratings))
	data, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "user_id,item_id,rating,timestamp\n1,2,4.5,100\n3,4,1,200\n", string(data))
	loaded, err := LoadRatings(path)
	assert.NoError(t, err)
	assert.Equal(t, ratings, loaded)
}
