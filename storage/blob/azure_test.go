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
	"context"
	"os"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/gorse-io/rectool/config"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestAzureBlobEmulator(t *testing.T) {
	connectionString := os.Getenv("AZURE_STORAGE_CONNECTION_STRING")
	if connectionString == "" {
		t.Skip("AZURE_STORAGE_CONNECTION_STRING is not set, skipping Azure Blob emulator test")
	}

	client, err := NewAzureBlob(config.AzureConfig{
		ConnectionString: connectionString,
		Container:        "rectool-test",
		Prefix:           "models",
	})
	assert.NoError(t, err)

	_, err = client.client.CreateContainer(context.Background(), client.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		assert.NoError(t, err)
	}

	writeBlob(t, client, "run-1.ncf", "hello")
	assert.Equal(t, "hello", readBlob(t, client, "run-1.ncf"))

	names, err := client.List()
	assert.NoError(t, err)
	assert.Contains(t, names, "run-1.ncf")

	err = client.Remove("run-1.ncf")
	assert.NoError(t, err)
	names, err = client.List()
	assert.NoError(t, err)
	assert.NotContains(t, names, "run-1.ncf")
	assert.True(t, errors.Is(client.Remove("run-1.ncf"), errors.NotFound))
}
