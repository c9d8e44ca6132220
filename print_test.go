package covenant

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintCompiled(t *testing.T) {
	sess, obj := compileVault(t)

	var buf bytes.Buffer
	require.NoError(t, PrintCompiled(&buf, sess, obj, false))
	out := buf.String()
	assert.Contains(t, out, "Type:\t\tvault\n")
	assert.Contains(t, out, "Type:\t\tvault.unvault\n")
	assert.Contains(t, out, "OP_NOP4")
	assert.Contains(t, out, "分支 unvault")
	assert.NotContains(t, out, "Inputs:")

	// 子合约缩进一层
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "vault.unvault") {
			assert.True(t, strings.HasPrefix(line, "\tType:"))
		}
	}

	buf.Reset()
	require.NoError(t, PrintCompiled(&buf, sess, obj, true))
	assert.Contains(t, buf.String(), "Inputs:")
}
