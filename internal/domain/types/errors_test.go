package types_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"opencdm/internal/domain/types"
)

func TestCode_MapsWrappedErrors(t *testing.T) {
	cases := []struct {
		err  error
		want types.ErrorCode
	}{
		{nil, types.CodeNone},
		{types.ErrInvalidSession, types.CodeInvalidSession},
		{fmt.Errorf("load: %w", types.ErrInvalidSessionOperation), types.CodeUnknown},
		{fmt.Errorf("wait: %w", types.ErrTimeout), types.CodeTimeout},
		{fmt.Errorf("select: %w", types.ErrKeySystemNotSupported), types.CodeKeySystemNotSupported},
		{types.ErrInternal, types.CodeFail},
		{errors.New("something else"), types.CodeUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, types.Code(c.err), "error %v", c.err)
	}
}

func TestKeyStatus_Known(t *testing.T) {
	assert.True(t, types.Usable.Known())
	assert.True(t, types.InternalError.Known())
	assert.False(t, types.KeyStatus(42).Known())
	assert.Equal(t, "unknown", types.KeyStatus(42).String())
}

func TestLicenseType_RoundTripsWireName(t *testing.T) {
	assert.Equal(t, types.PersistentLicense, types.ParseLicenseType(types.PersistentLicense.String()))
	assert.Equal(t, types.Temporary, types.ParseLicenseType("bogus"))
}
