package resolve

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateSourcePortsAnyPort(t *testing.T) {
	require.NoError(t, ValidateSourcePorts([]int{0}))
}

func TestValidateSourcePortsRejectsEmpty(t *testing.T) {
	require.Error(t, ValidateSourcePorts(nil))
}

func TestValidateSourcePortsRejectsMixingAnyWithExplicit(t *testing.T) {
	require.Error(t, ValidateSourcePorts([]int{0, 2000}))
}

func TestValidateSourcePortsRejectsOutOfRange(t *testing.T) {
	require.Error(t, ValidateSourcePorts([]int{1024}))
	require.Error(t, ValidateSourcePorts([]int{65535}))
	require.Error(t, ValidateSourcePorts([]int{80}))
}

func TestValidateSourcePortsRejectsIANAReserved(t *testing.T) {
	require.Error(t, ValidateSourcePorts([]int{3306}))
	require.True(t, IsIANAReservedPort(3306))
}

func TestValidateSourcePortsAcceptsOrdinaryEphemeralPorts(t *testing.T) {
	require.NoError(t, ValidateSourcePorts([]int{2000, 40000, 60000}))
}

func TestSourcePortRange(t *testing.T) {
	ports, err := SourcePortRange(2000, 2004)
	require.NoError(t, err)
	require.Equal(t, []int{2000, 2001, 2002, 2003, 2004}, ports)
}

func TestSourcePortRangeRejectsInvalidBounds(t *testing.T) {
	_, err := SourcePortRange(100, 50)
	require.Error(t, err)

	_, err = SourcePortRange(0, 50)
	require.Error(t, err)
}

func TestSourcePortRangeRejectsRangeContainingReservedPort(t *testing.T) {
	_, err := SourcePortRange(3300, 3310)
	require.Error(t, err)
}
