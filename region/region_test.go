package region_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AlephTX/shmrecord/region"
)

func randomName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("shmrecord_test_%d", rand.Uint64())
}

func TestCreate_ThenOpen_SeesSameBytes(t *testing.T) {
	name := randomName(t)

	w, err := region.Create(name, 64)
	require.NoError(t, err)
	defer w.Unlink()
	defer w.Close()

	w.Bytes()[0] = 0xAB

	r, err := region.Open(name)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, byte(0xAB), r.Bytes()[0])
	require.Equal(t, 64, r.Size())
	require.Equal(t, name, r.Name())
}

func TestCreate_RejectsDuplicateName(t *testing.T) {
	name := randomName(t)

	w, err := region.Create(name, 16)
	require.NoError(t, err)
	defer w.Unlink()
	defer w.Close()

	_, err = region.Create(name, 16)
	require.ErrorIs(t, err, region.ErrAlreadyExists)
}

func TestOpen_MissingNameReturnsErrNotFound(t *testing.T) {
	_, err := region.Open(randomName(t))
	require.ErrorIs(t, err, region.ErrNotFound)
}

func TestUnlink_MissingNameReturnsErrNotFound(t *testing.T) {
	w, err := region.Create(randomName(t), 16)
	require.NoError(t, err)
	require.NoError(t, w.Unlink())
	require.ErrorIs(t, w.Unlink(), region.ErrNotFound)
	w.Close()
}
