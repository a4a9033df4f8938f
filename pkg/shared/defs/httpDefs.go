package defs

// BridgeInfo is returned by GET /api/bridgeInfo and drives the web UI.
type BridgeInfo struct {
	BridgeVersion        string `json:"bridgeVersion"`
	CLIDownloadLink      string `json:"cliDownloadLink"`
	IntegrationsPageLink string `json:"integrationsPageLink"`
	AuthType             string `json:"authType"`
	EnableVersionCheck   bool   `json:"enableVersionCheckFeature"`
	LogoutURL            string `json:"logoutUrl,omitempty"`
	User                 string `json:"user,omitempty"`
}

// DirListing is the payload of the /dir diagnostics endpoint.
type DirListing struct {
	FrontendDir   string   `json:"bridgeDir"`
	BrandingDir   string   `json:"destDir"`
	StagingFile   string   `json:"destFile"`
	BrandingState string   `json:"brandingState"`
	FrontendFiles []string `json:"bridgeFiles"`
	BrandingFiles []string `json:"brandingFiles"`
	StaticFiles   []string `json:"staticFiles"`
}

type ErrorBody struct {
	Message string `json:"msg"`
}
