package plan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnmarshalUnknownKind(t *testing.T) {
	t.Parallel()

	data, err := encMode.Marshal(&manifest{
		Version:    FormatVersion,
		Name:       "x",
		Directives: []envelope{{Kind: "FromTheVoid", Body: []byte{0xa0}}},
	})
	require.NoError(t, err)

	_, err = Unmarshal(data)
	require.ErrorIs(t, err, ErrInvalidPlan)
	require.ErrorContains(t, err, "FromTheVoid")
}

func TestUnmarshalFutureVersion(t *testing.T) {
	t.Parallel()

	data, err := encMode.Marshal(&manifest{Version: FormatVersion + 1})
	require.NoError(t, err)
	_, err = Unmarshal(data)
	require.ErrorIs(t, err, ErrInvalidPlan)
}
