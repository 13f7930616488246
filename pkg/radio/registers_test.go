package radio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrfRegs(t *testing.T) {
	msb, mid, lsb := frfRegs(868_000_000)
	require.Equal(t, [3]byte{0xd9, 0x00, 0x00}, [3]byte{msb, mid, lsb})
	require.Equal(t, uint32(868_000_000), frfHz(msb, mid, lsb))

	msb, mid, lsb = frfRegs(915_000_000)
	require.Equal(t, [3]byte{0xe4, 0xc0, 0x00}, [3]byte{msb, mid, lsb})
}

func TestBitrateRegs(t *testing.T) {
	msb, lsb := bitrateRegs(9600)
	require.Equal(t, [2]byte{0x0d, 0x05}, [2]byte{msb, lsb})
}

func TestFdevRegs(t *testing.T) {
	// The rover transmits with Fdev registers 0x01,0x3b; rounding must
	// reproduce that exactly for 19200 Hz.
	msb, lsb := fdevRegs(19200)
	require.Equal(t, [2]byte{0x01, 0x3b}, [2]byte{msb, lsb})
}

func TestBringUp(t *testing.T) {
	cfg := DefaultConfig()
	seq := bringUp(cfg)

	wrote := make(map[byte]byte)
	for _, rv := range seq {
		wrote[rv.reg] = rv.val
	}
	require.Equal(t, byte(0x00), wrote[regDataModul])
	require.Equal(t, byte(0xd9), wrote[regFrfMsb])
	require.Equal(t, byte(0x01), wrote[regFdevMsb])
	require.Equal(t, byte(0x3b), wrote[regFdevLsb])
	require.Equal(t, byte(0x2d), wrote[regSyncValue1])
	require.Equal(t, byte(0xd4), wrote[regSyncValue1+1])
	require.Equal(t, byte(0x88), wrote[regSyncConfig])
	require.Equal(t, byte(0xd0), wrote[regPktConfig1])
	require.Equal(t, byte(0xe4), wrote[regRxBw])
	require.Equal(t, byte(0xe4), wrote[regAfcBw])
	require.Equal(t, byte(0x7c), wrote[regPaLevel])
	// No AES key configured; packet engine runs unencrypted.
	require.Equal(t, byte(pktConfig2AutoRxRestart), wrote[regPktConfig2])
	_, hasKey := wrote[regAesKey1]
	require.False(t, hasKey)
}

func TestBringUpWithAES(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AESKey = []byte("0123456789abcdef")
	seq := bringUp(cfg)

	wrote := make(map[byte]byte)
	for _, rv := range seq {
		wrote[rv.reg] = rv.val
	}
	require.Equal(t, byte(pktConfig2AutoRxRestart|pktConfig2AesOn), wrote[regPktConfig2])
	for i := 0; i < 16; i++ {
		require.Equal(t, cfg.AESKey[i], wrote[regAesKey1+byte(i)])
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := DefaultConfig()
	bad.AESKey = []byte("short")
	require.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.SyncWord = nil
	require.Error(t, bad.Validate())
}
