package helpers

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldErrors(t *testing.T) {
	t.Parallel()
	assert.NoError(t, FoldErrors(nil))
	assert.NoError(t, FoldErrors([]error{nil, nil}))
	err := FoldErrors([]error{fmt.Errorf("dns: bind"), nil, fmt.Errorf("console: bind")})
	assert.EqualError(t, err, "dns: bind\nconsole: bind")
}
