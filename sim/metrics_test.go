package sim

import (
	"fmt"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordOp_ClassifiesResult(t *testing.T) {
	tests := []struct {
		err    error
		result string
	}{
		{nil, resultOK},
		{fmt.Errorf("deploy: %w", ErrCapacity), resultCapacity},
		{ErrNotDeployed, resultError},
	}
	for _, tc := range tests {
		t.Run(tc.result, func(t *testing.T) {
			c := engineOps.WithLabelValues(opUndeploy, tc.result)
			before := promtestutil.ToFloat64(c)

			recordOp(opUndeploy, tc.err)

			assert.Equal(t, before+1, promtestutil.ToFloat64(c))
		})
	}
}
