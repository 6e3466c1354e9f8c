package ports

import (
	"errors"
	"testing"

	"github.com/benchrunr/api/internal/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[[files]]
kind = "stdout"

[[files]]
kind = "listen"
prot = "tcp"
port = 5000

[[files]]
kind = "listen"
prot = "tcp"
port = 2500
`

func TestParsePorts(t *testing.T) {
	ports, err := ParsePorts([]byte(sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, []uint16{2500, 5000}, ports)
}

func TestParsePortsNoListenEntries(t *testing.T) {
	ports, err := ParsePorts([]byte("[[files]]\nkind = \"stdout\"\n"))
	require.NoError(t, err)
	assert.Empty(t, ports)
}

func TestParsePortsDeduplicates(t *testing.T) {
	text := `
[[files]]
kind = "listen"
port = 4000

[[files]]
kind = "listen"
port = 4000
`
	ports, err := ParsePorts([]byte(text))
	require.NoError(t, err)
	assert.Equal(t, []uint16{4000}, ports)
}

func TestParsePortsMalformed(t *testing.T) {
	_, err := ParsePorts([]byte("not toml at all ]["))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestParsePortsListenWithoutPort(t *testing.T) {
	_, err := ParsePorts([]byte("[[files]]\nkind = \"listen\"\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestValidateRangeReportsAllOffenders(t *testing.T) {
	illegal := ValidateRange([]uint16{80, 2500, 443, 31000}, 2000, 30000)
	assert.Equal(t, []uint16{80, 443, 31000}, illegal)
}

func TestValidateRangeAllWithin(t *testing.T) {
	assert.Nil(t, ValidateRange([]uint16{2000, 30000}, 2000, 30000))
}
