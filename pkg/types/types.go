package types

// InternalOrigin is the distinguished origin of the extension's own trusted
// UI surfaces. Calls carrying it bypass the permissions map and are never
// stored in it.
const InternalOrigin = "internal://wallet-ui"

// DefaultChainID is the session chain until the user switches (Ethereum mainnet).
const DefaultChainID = "0x1"

// SeedType constants describe how a wallet container derives its keys.
const (
	SeedTypeMnemonic   = "mnemonic"
	SeedTypePrivateKey = "privateKey"
	SeedTypeHardware   = "hardware"
)

// GroupOrigin constants record where a wallet group came from.
const (
	GroupOriginExtension = "extension"
	GroupOriginImported  = "imported"
	GroupOriginHardware  = "hardware"
)

// Approval surface routes
const (
	RouteRequestAccounts = "/requestAccounts"
	RouteSendTransaction = "/sendTransaction"
	RouteSignMessage     = "/signMessage"
	RouteSwitchChain     = "/switchEthereumChain"
)
