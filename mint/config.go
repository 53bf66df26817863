package mint

import (
	"time"

	"github.com/cashumint/core/cashu/nuts/nut06"
	"github.com/cashumint/core/mint/lightning"
)

// LogLevel controls verbosity and destination of the mint's logger.
type LogLevel int

const (
	Info LogLevel = iota
	Debug
	Disable
)

// MintInfo holds the operator-supplied fields surfaced in the NUT-06
// info response. The rest of that response (supported nuts, pubkey) is
// filled in by Mint.SetMintInfo/RetrieveMintInfo from runtime state.
type MintInfo struct {
	Name            string
	Description     string
	LongDescription string
	IconURL         string
	URLs            []string
	Motd            string
	Contact         []nut06.ContactInfo
}

type Config struct {
	// RotateKeyset is filled from the ROTATE_KEYSET environment variable
	// by cmd/mint. LoadMint does not read it; a keyset is rotated only
	// when Mint.RotateKeyset is called.
	RotateKeyset bool

	Port            int
	MintPath        string
	DBMigrationPath string

	DerivationPathIdx uint32
	InputFeePpk       uint
	Limits            MintLimits
	MintInfo          MintInfo

	LightningClient lightning.Client
	// EnableMPP is filled from the ENABLE_MPP environment variable by
	// cmd/mint. The mint does not read it: multi-part payment melts are not
	// offered and NUT-15 is not listed in the mint info.
	EnableMPP bool

	LogLevel LogLevel

	// EnableAdminServer starts the operator-only HTTP surface (mint/manager)
	// alongside the mint.
	EnableAdminServer bool

	// MeltTimeout bounds how long a melt waits on an Unknown lightning
	// backend result before returning Pending to the caller. Nil disables
	// the timeout.
	MeltTimeout *time.Duration
}

type MintMethodSettings struct {
	MinAmount uint64
	MaxAmount uint64
}

type MeltMethodSettings struct {
	MinAmount uint64
	MaxAmount uint64
}

type MintLimits struct {
	MaxBalance      uint64
	MintingSettings MintMethodSettings
	MeltingSettings MeltMethodSettings
}
