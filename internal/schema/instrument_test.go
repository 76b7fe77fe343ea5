package schema

import "testing"

func TestValidateInstrument(t *testing.T) {
	cases := []struct {
		name    string
		symbol  string
		wantErr bool
	}{
		{"valid", "BTC-USDT", false},
		{"valid with padding", "  ETH-USD  ", false},
		{"empty", "", true},
		{"missing quote", "BTC-", true},
		{"missing base", "-USDT", true},
		{"no separator", "BTCUSDT", true},
		{"lowercase", "btc-usdt", true},
		{"too many legs", "BTC-USDT-PERP", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateInstrument(tc.symbol)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidateInstrument(%q) err = %v, wantErr %v", tc.symbol, err, tc.wantErr)
			}
		})
	}
}

func TestInstrumentLegs(t *testing.T) {
	if got := BaseAsset("BTC-USDT"); got != "BTC" {
		t.Fatalf("BaseAsset = %q", got)
	}
	if got := QuoteAsset("BTC-USDT"); got != "USDT" {
		t.Fatalf("QuoteAsset = %q", got)
	}
	if got := QuoteAsset("BTC"); got != "" {
		t.Fatalf("QuoteAsset without separator = %q", got)
	}
}

func TestSideOpposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Fatal("Opposite should invert the side")
	}
	if !SideBuy.Valid() || Side("hold").Valid() {
		t.Fatal("Valid misclassified a side")
	}
}

func TestKeyStrings(t *testing.T) {
	asset := AssetKey{Exchange: "binance_spot", Asset: "usdt"}
	if asset.String() != "binance_spot:usdt" {
		t.Fatalf("AssetKey.String() = %q", asset.String())
	}
	inst := InstrumentKey{Exchange: "binance_spot", Instrument: "BTC-USDT"}
	if inst.String() != "binance_spot:BTC-USDT" {
		t.Fatalf("InstrumentKey.String() = %q", inst.String())
	}
}
