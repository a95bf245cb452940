package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstituents_ValueScan(t *testing.T) {
	in := Constituents{
		{Symbol: "AAPL", Name: "Apple Inc", Weight: decimal.RequireFromString("0.065"), Value: decimal.RequireFromString("650.00")},
		{Symbol: "MSFT", Name: "Microsoft Corp", Weight: decimal.RequireFromString("0.06"), Value: decimal.RequireFromString("600.00"), Sector: "Technology"},
	}

	v, err := in.Value()
	require.NoError(t, err)

	var out Constituents
	require.NoError(t, out.Scan([]byte(v.(string))))
	require.Len(t, out, 2)
	assert.Equal(t, "AAPL", out[0].Symbol)
	assert.True(t, out[0].Weight.Equal(in[0].Weight))
	assert.Equal(t, "Technology", out[1].Sector)
	assert.True(t, out[0].NeedsInfo())
	assert.False(t, out[1].NeedsInfo())
}

func TestConstituents_ScanEmpty(t *testing.T) {
	tests := []struct {
		name string
		src  interface{}
	}{
		{name: "nil", src: nil},
		{name: "json null", src: "null"},
		{name: "empty bytes", src: []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Constituents{{Symbol: "X"}}
			require.NoError(t, c.Scan(tt.src))
			assert.Nil(t, c)
		})
	}

	var c Constituents
	assert.Error(t, c.Scan(42))

	v, err := Constituents(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestConstituents_TotalWeightAndClone(t *testing.T) {
	c := Constituents{
		{Symbol: "A", Weight: decimal.RequireFromString("0.5")},
		{Symbol: "B", Weight: decimal.RequireFromString("0.3")},
	}
	assert.Equal(t, "0.8", c.TotalWeight().String())

	clone := c.Clone()
	clone[0].Sector = "Energy"
	assert.Empty(t, c[0].Sector)
}

func TestHolding_Flags(t *testing.T) {
	h := Holding{AssetType: AssetTypeETF}
	assert.True(t, h.NeedsFundResolution())
	assert.False(t, h.HasConstituents())

	h.UnderlyingParsed = true
	h.Underlying = Constituents{{Symbol: "AAPL"}}
	assert.False(t, h.NeedsFundResolution())
	assert.True(t, h.HasConstituents())

	stock := Holding{AssetType: AssetTypeStock}
	assert.False(t, stock.NeedsFundResolution())

	assert.Equal(t, AssetTypeMutualFund, ParseAssetType(" Mutual_Fund "))
	assert.Equal(t, AssetTypeOther, ParseAssetType("crypto"))
}
