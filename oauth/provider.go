package oauth

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/TKOaly/user-service-sub000/internal/metrics"
	"github.com/go-jose/go-jose/v4"
	"github.com/goliatone/go-errors"
)

// Response types accepted by the authorization endpoint.
const (
	ResponseTypeCode         = "code"
	ResponseTypeToken        = "token"
	ResponseTypeIDToken      = "id_token"
	ResponseTypeIDTokenToken = "id_token token"
)

// Grant types accepted by the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantPassword          = "password"
)

const TokenTypeBearer = "Bearer"

// DefaultBasePath is where the provider routes are mounted.
const DefaultBasePath = "/oauth"

// UserSource loads projected users by id.
type UserSource interface {
	Fetch(ctx context.Context, id int64) (*auth.User, error)
}

// CredentialVerifier checks a username and password pair.
type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string) (*auth.User, error)
}

// Config holds the provider collaborators. Every field except BasePath is
// required.
type Config struct {
	Issuer      string
	BasePath    string
	Services    auth.ServiceStore
	Consents    auth.ConsentStore
	Policies    auth.PolicyProvider
	Users       UserSource
	Credentials CredentialVerifier
	Tokens      *auth.ServiceTokenCodec
	IDTokens    *auth.IDTokenSigner
	Keys        auth.KeyProvider
	Flows       *FlowStore
	Codes       *CodeStore
}

func (c Config) validate() error {
	missing := []string{}
	check := func(name string, ok bool) {
		if !ok {
			missing = append(missing, name)
		}
	}
	check("issuer", c.Issuer != "")
	check("services", c.Services != nil)
	check("consents", c.Consents != nil)
	check("policies", c.Policies != nil)
	check("users", c.Users != nil)
	check("credentials", c.Credentials != nil)
	check("tokens", c.Tokens != nil)
	check("id_tokens", c.IDTokens != nil)
	check("keys", c.Keys != nil)
	check("flows", c.Flows != nil)
	check("codes", c.Codes != nil)
	if len(missing) > 0 {
		return errors.New("oauth provider is missing collaborators", errors.CategoryBadInput).
			WithMetadata(map[string]any{"missing": missing})
	}
	return nil
}

// Provider runs the authorization flows. It is transport agnostic; the
// Controller maps it onto HTTP.
type Provider struct {
	cfg      Config
	basePath string
	activity auth.ActivitySink
	logger   auth.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Option func(*Provider)

func WithLogger(l auth.Logger) Option {
	return func(p *Provider) {
		p.logger = auth.NormalizeLogger(l)
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Provider) {
		p.metrics = m
	}
}

func WithActivitySink(sink auth.ActivitySink) Option {
	return func(p *Provider) {
		p.activity = auth.NormalizeActivitySink(sink)
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

func NewProvider(cfg Config, opts ...Option) (*Provider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	basePath := strings.TrimRight(cfg.BasePath, "/")
	if basePath == "" {
		basePath = DefaultBasePath
	}
	p := &Provider{
		cfg:      cfg,
		basePath: basePath,
		activity: auth.NormalizeActivitySink(nil),
		logger:   auth.DefaultLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// BasePath is the mount point of the provider routes.
func (p *Provider) BasePath() string {
	return p.basePath
}

// StepPath is the URL path of a flow step.
func (p *Provider) StepPath(flowID string, step Step) string {
	return p.basePath + "/flow/" + url.PathEscape(flowID) + "/" + string(step)
}

// AuthorizeRequest carries the authorization endpoint parameters.
type AuthorizeRequest struct {
	ClientID     string `query:"client_id"`
	RedirectURI  string `query:"redirect_uri"`
	ResponseType string `query:"response_type"`
	Scope        string `query:"scope"`
	State        string `query:"state"`
	Nonce        string `query:"nonce"`
}

// Result tells the transport where to send the browser next. Token is the
// service token to store in the cookie, empty when it is unchanged.
type Result struct {
	Redirect string
	Token    string
}

// Authorize validates an authorization request. Requests whose client or
// redirect cannot be trusted fail with a JSON error; everything after that
// is reported to the client's redirect.
func (p *Provider) Authorize(ctx context.Context, req AuthorizeRequest, bearer string) (*Result, error) {
	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.ClientID == "" {
		return nil, newError(ErrorInvalidRequest, "client_id is required")
	}

	service, err := p.cfg.Services.GetByIdentifier(ctx, req.ClientID)
	if err != nil {
		if auth.IsNotFound(err) {
			return nil, newError(ErrorInvalidRequest, "unknown client_id")
		}
		return nil, serverError(err)
	}
	explicitRedirect := req.RedirectURI != ""
	if !explicitRedirect {
		req.RedirectURI = service.RedirectURL
	}
	if req.RedirectURI != service.RedirectURL {
		return nil, newError(ErrorInvalidRequest, "redirect_uri does not match the registered value")
	}

	fail := func(e *Error) error {
		if e.Code == ErrorServerError {
			p.logger.Error("authorization request failed", "service", service.Identifier, "error", e.cause)
		}
		p.metrics.Authorization(responseTypeLabel(req.ResponseType), "error")
		return e.redirectTo(req.RedirectURI, req.State, isImplicit(req.ResponseType))
	}

	if !supportedResponseType(req.ResponseType) {
		return nil, fail(newError(ErrorUnsupportedResponseType, "response_type must be one of code, token, id_token"))
	}

	scopes := auth.ParseScopes(req.Scope)
	for _, scope := range scopes {
		if !auth.IsSupportedScope(scope) {
			return nil, fail(newError(ErrorInvalidScope, "unsupported scope "+scope))
		}
	}
	if wantsIDToken(req.ResponseType) {
		if !containsString(scopes, "openid") {
			return nil, fail(newError(ErrorInvalidScope, "id_token requires the openid scope"))
		}
		if req.Nonce == "" {
			return nil, fail(newError(ErrorInvalidRequest, "nonce is required when an id_token is requested"))
		}
	}

	flow := &Flow{
		ServiceIdentifier: service.Identifier,
		State:             req.State,
		Scopes:            scopes,
		ResponseType:      req.ResponseType,
		RedirectURL:       req.RedirectURI,
		RedirectExplicit:  explicitRedirect,
		Nonce:             req.Nonce,
	}

	if token := p.verifyBearer(bearer); token.AuthenticatedTo(service.Identifier) {
		user, err := p.cfg.Users.Fetch(ctx, token.PrincipalID)
		switch {
		case err == nil:
			flow.UserID = &user.ID
			flow.AuthTime = token.IssuedAt
			flow.Step = StepGranted
			return p.grant(ctx, service, flow, user, bearer)
		case !auth.IsNotFound(err):
			return nil, fail(serverError(err))
		}
	}

	if err := p.cfg.Flows.Create(ctx, flow); err != nil {
		return nil, fail(serverError(err))
	}
	p.logger.Debug("authorization flow started", "flow", flow.ID, "service", service.Identifier)
	p.metrics.Authorization(req.ResponseType, "started")
	return &Result{Redirect: p.StepPath(flow.ID, StepLogin)}, nil
}

// ServiceView is the public part of a service shown to the principal.
type ServiceView struct {
	Identifier  string `json:"identifier"`
	DisplayName string `json:"display_name"`
}

// StepView describes the flow's current step. When the requested step is
// not the current one, Step names where the flow actually is.
type StepView struct {
	FlowID        string      `json:"flow_id"`
	Step          Step        `json:"step"`
	Service       ServiceView `json:"service"`
	Scopes        []string    `json:"scopes"`
	PrivacyPolicy string      `json:"privacy_policy,omitempty"`
	Claims        []string    `json:"claims,omitempty"`
}

// Describe returns what the principal needs to see to complete step.
func (p *Provider) Describe(ctx context.Context, flowID string, step Step) (*StepView, error) {
	flow, service, err := p.loadFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}

	view := &StepView{
		FlowID: flow.ID,
		Step:   flow.Step,
		Service: ServiceView{
			Identifier:  service.Identifier,
			DisplayName: service.DisplayName,
		},
		Scopes: flow.Scopes,
	}
	if flow.Step != step {
		return view, nil
	}

	switch step {
	case StepPrivacy:
		policy, err := p.cfg.Policies.PolicyFor(ctx, service)
		if err != nil {
			return nil, serverError(err)
		}
		view.PrivacyPolicy = policy
	case StepGDPR:
		view.Claims = auth.ReleasedClaims(service.Permissions, flow.Scopes)
	}
	return view, nil
}

// Login authenticates the principal. A failed login leaves the flow at the
// login step so the principal can retry.
func (p *Provider) Login(ctx context.Context, flowID, username, password string) (*Result, error) {
	flow, service, err := p.loadFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if flow.Step != StepLogin {
		return &Result{Redirect: p.StepPath(flow.ID, flow.Step)}, nil
	}

	user, err := p.cfg.Credentials.Verify(ctx, username, password)
	if err != nil {
		return nil, err
	}

	consent, err := p.cfg.Consents.Get(ctx, user.ID, service.Identifier)
	if err != nil {
		return nil, p.flowError(flow, serverError(err))
	}
	next := StepPrivacy
	if consent == auth.ConsentAccepted {
		next = StepGDPR
	}
	if err := flow.Advance(next); err != nil {
		return nil, err
	}

	flow.UserID = &user.ID
	flow.AuthTime = p.now()
	if err := p.cfg.Flows.Save(ctx, flow); err != nil {
		return nil, p.saveError(flow, err)
	}
	return &Result{Redirect: p.StepPath(flow.ID, flow.Step)}, nil
}

// Privacy records the principal's privacy policy decision. Declining ends
// the flow with access_denied.
func (p *Provider) Privacy(ctx context.Context, flowID string, accept bool) (*Result, error) {
	flow, service, err := p.loadFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if flow.Step != StepPrivacy {
		return &Result{Redirect: p.StepPath(flow.ID, flow.Step)}, nil
	}
	userID := *flow.UserID

	if !accept {
		if err := p.cfg.Consents.Record(ctx, userID, service.Identifier, auth.ConsentDeclined); err != nil {
			return nil, p.flowError(flow, serverError(err))
		}
		p.record(ctx, auth.ActivityEventConsentDeclined, userID, service.Identifier, nil)
		if flow, err = p.claim(ctx, flow); err != nil {
			return nil, err
		}
		return nil, p.deny(flow, "the privacy policy was declined")
	}

	if err := p.cfg.Consents.Record(ctx, userID, service.Identifier, auth.ConsentAccepted); err != nil {
		return nil, p.flowError(flow, serverError(err))
	}
	p.record(ctx, auth.ActivityEventConsentAccepted, userID, service.Identifier, nil)

	if err := flow.Advance(StepGDPR); err != nil {
		return nil, err
	}
	if err := p.cfg.Flows.Save(ctx, flow); err != nil {
		return nil, p.saveError(flow, err)
	}
	return &Result{Redirect: p.StepPath(flow.ID, flow.Step)}, nil
}

// Confirm completes the flow once the principal has seen the released
// claims. bearer is the principal's current service token, if any.
func (p *Provider) Confirm(ctx context.Context, flowID string, confirm bool, bearer string) (*Result, error) {
	flow, service, err := p.loadFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if flow.Step != StepGDPR {
		return &Result{Redirect: p.StepPath(flow.ID, flow.Step)}, nil
	}
	if flow, err = p.claim(ctx, flow); err != nil {
		return nil, err
	}
	if !confirm {
		return nil, p.deny(flow, "the release of user data was not confirmed")
	}

	if err := flow.Advance(StepGranted); err != nil {
		return nil, err
	}

	user, err := p.cfg.Users.Fetch(ctx, *flow.UserID)
	if err != nil {
		if auth.IsNotFound(err) {
			return nil, p.flowError(flow, newError(ErrorAccessDenied, "the user no longer exists"))
		}
		return nil, p.flowError(flow, serverError(err))
	}
	return p.grant(ctx, service, flow, user, bearer)
}

// claim takes a flow that is about to finish out of the store, so a double
// submit cannot finish it twice.
func (p *Provider) claim(ctx context.Context, flow *Flow) (*Flow, error) {
	claimed, err := p.cfg.Flows.Take(ctx, flow.ID)
	if err != nil {
		if auth.IsNotFound(err) {
			return nil, newError(ErrorInvalidRequest, "unknown or expired authorization flow")
		}
		return nil, p.flowError(flow, serverError(err))
	}
	if claimed.Step != flow.Step {
		return nil, newError(ErrorInvalidRequest, "authorization flow changed while it was being completed")
	}
	return claimed, nil
}

// deny ends a claimed flow with access_denied.
func (p *Provider) deny(flow *Flow, reason string) error {
	if err := flow.Advance(StepDenied); err != nil {
		return err
	}
	p.metrics.Authorization(flow.ResponseType, "denied")
	return p.flowError(flow, newError(ErrorAccessDenied, reason))
}

// grant issues the code or tokens for a finished flow and returns the
// redirect to the client.
func (p *Provider) grant(ctx context.Context, service *auth.Service, flow *Flow, user *auth.User, bearer string) (*Result, error) {
	cookie, err := p.serviceToken(ctx, bearer, user.ID, service.Identifier)
	if err != nil {
		return nil, p.flowError(flow, serverError(err))
	}

	var location string
	if flow.ResponseType == ResponseTypeCode {
		value, err := p.cfg.Codes.Issue(ctx, &Code{
			UserID:            user.ID,
			ServiceIdentifier: service.Identifier,
			Scopes:            flow.Scopes,
			RedirectURL:       flow.RedirectURL,
			RedirectExplicit:  flow.RedirectExplicit,
			Nonce:             flow.Nonce,
			AuthTime:          flow.AuthTime,
		})
		if err != nil {
			return nil, p.flowError(flow, serverError(err))
		}
		params := url.Values{}
		params.Set("code", value)
		if flow.State != "" {
			params.Set("state", flow.State)
		}
		location = appendParams(flow.RedirectURL, params, false)
	} else {
		params, err := p.implicitParams(ctx, service, flow, user)
		if err != nil {
			return nil, p.flowError(flow, serverError(err))
		}
		location = appendParams(flow.RedirectURL, params, true)
	}

	p.record(ctx, auth.ActivityEventAuthorizeGranted, user.ID, service.Identifier, map[string]any{
		"response_type": flow.ResponseType,
		"scopes":        flow.Scopes,
	})
	p.metrics.Authorization(flow.ResponseType, "granted")
	return &Result{Redirect: location, Token: cookie}, nil
}

func (p *Provider) implicitParams(ctx context.Context, service *auth.Service, flow *Flow, user *auth.User) (url.Values, error) {
	params := url.Values{}
	if wantsAccessToken(flow.ResponseType) {
		access, err := p.cfg.Tokens.Create(user.ID, []string{service.Identifier})
		if err != nil {
			return nil, err
		}
		params.Set("access_token", access)
		params.Set("token_type", TokenTypeBearer)
		if ttl := p.expiresIn(); ttl > 0 {
			params.Set("expires_in", strconv.FormatInt(ttl, 10))
		}
	}
	if wantsIDToken(flow.ResponseType) {
		idToken, err := p.cfg.IDTokens.Sign(ctx, auth.IDTokenRequest{
			User:     user,
			Audience: service.Identifier,
			Claims:   auth.ReleasedClaims(service.Permissions, flow.Scopes),
			Nonce:    flow.Nonce,
			AuthTime: flow.AuthTime,
		})
		if err != nil {
			return nil, err
		}
		params.Set("id_token", idToken)
	}
	if flow.State != "" {
		params.Set("state", flow.State)
	}
	p.metrics.TokenIssued("implicit")
	return params, nil
}

// serviceToken extends bearer with serviceID when it belongs to userID and
// mints a new token otherwise.
func (p *Provider) serviceToken(ctx context.Context, bearer string, userID int64, serviceID string) (string, error) {
	existing := p.verifyBearer(bearer)
	if existing != nil && existing.PrincipalID == userID {
		if existing.AuthenticatedTo(serviceID) {
			return bearer, nil
		}
		token, err := p.cfg.Tokens.Append(bearer, serviceID)
		if err != nil {
			return "", err
		}
		p.record(ctx, auth.ActivityEventServiceTokenIssue, userID, serviceID, map[string]any{"appended": true})
		return token, nil
	}

	token, err := p.cfg.Tokens.Create(userID, []string{serviceID})
	if err != nil {
		return "", err
	}
	p.record(ctx, auth.ActivityEventServiceTokenIssue, userID, serviceID, map[string]any{"appended": false})
	return token, nil
}

func (p *Provider) verifyBearer(bearer string) *auth.ServiceToken {
	if bearer == "" {
		return nil
	}
	token, err := p.cfg.Tokens.Verify(bearer)
	if err != nil {
		p.logger.Debug("ignoring invalid service token", "error", err)
		return nil
	}
	return token
}

// TokenRequest carries the token endpoint parameters. Client credentials
// from the Authorization header take precedence over the body.
type TokenRequest struct {
	GrantType    string `form:"grant_type"`
	Code         string `form:"code"`
	RedirectURI  string `form:"redirect_uri"`
	ClientID     string `form:"client_id"`
	ClientSecret string `form:"client_secret"`
	Username     string `form:"username"`
	Password     string `form:"password"`
	Scope        string `form:"scope"`
}

// TokenResponse is the token endpoint success body.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
	IDToken     string `json:"id_token"`
	Scope       string `json:"scope,omitempty"`
}

// Exchange serves the back channel token endpoint.
func (p *Provider) Exchange(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	service, err := p.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	switch req.GrantType {
	case GrantAuthorizationCode:
		return p.exchangeCode(ctx, service, req)
	case GrantPassword:
		return p.exchangePassword(ctx, service, req)
	case "":
		return nil, newError(ErrorInvalidRequest, "grant_type is required")
	default:
		return nil, newError(ErrorUnsupportedGrantType, "grant_type must be authorization_code or password")
	}
}

func (p *Provider) authenticateClient(ctx context.Context, clientID, secret string) (*auth.Service, error) {
	if clientID == "" {
		return nil, newError(ErrorInvalidClient, "client authentication is required")
	}
	service, err := p.cfg.Services.GetByIdentifier(ctx, clientID)
	if err != nil {
		if auth.IsNotFound(err) {
			return nil, newError(ErrorInvalidClient, "client authentication failed")
		}
		return nil, serverError(err)
	}
	if service.IsPublic() {
		return nil, newError(ErrorInvalidClient, "public clients can not use the token endpoint")
	}
	if !service.CheckSecret(secret) {
		return nil, newError(ErrorInvalidClient, "client authentication failed")
	}
	return service, nil
}

func (p *Provider) exchangeCode(ctx context.Context, service *auth.Service, req TokenRequest) (*TokenResponse, error) {
	code, err := p.cfg.Codes.Redeem(ctx, req.Code)
	if err != nil {
		if auth.IsNotFound(err) {
			return nil, newError(ErrorInvalidRequest, "authorization code is unknown, expired or already used")
		}
		return nil, serverError(err)
	}
	if code.ServiceIdentifier != service.Identifier {
		return nil, newError(ErrorInvalidGrant, "authorization code was issued to another client")
	}
	// redirect_uri is only required when the authorization request carried one
	if (code.RedirectExplicit || req.RedirectURI != "") && req.RedirectURI != code.RedirectURL {
		return nil, newError(ErrorInvalidGrant, "redirect_uri does not match the authorization request")
	}

	user, err := p.cfg.Users.Fetch(ctx, code.UserID)
	if err != nil {
		if auth.IsNotFound(err) {
			return nil, newError(ErrorInvalidGrant, "the user no longer exists")
		}
		return nil, serverError(err)
	}
	return p.issue(ctx, service, user, code.Scopes, code.Nonce, code.AuthTime, GrantAuthorizationCode)
}

func (p *Provider) exchangePassword(ctx context.Context, service *auth.Service, req TokenRequest) (*TokenResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, newError(ErrorInvalidRequest, "username and password are required")
	}
	scopes := auth.ParseScopes(req.Scope)
	for _, scope := range scopes {
		if !auth.IsSupportedScope(scope) {
			return nil, newError(ErrorInvalidScope, "unsupported scope "+scope)
		}
	}

	user, err := p.cfg.Credentials.Verify(ctx, req.Username, req.Password)
	if err != nil {
		if auth.IsInvalidCredentials(err) {
			return nil, wrapError(ErrorInvalidGrant, "invalid resource owner credentials", err)
		}
		return nil, serverError(err)
	}
	return p.issue(ctx, service, user, scopes, "", p.now(), GrantPassword)
}

func (p *Provider) issue(ctx context.Context, service *auth.Service, user *auth.User, scopes []string, nonce string, authTime time.Time, grant string) (*TokenResponse, error) {
	access, err := p.cfg.Tokens.Create(user.ID, []string{service.Identifier})
	if err != nil {
		return nil, serverError(err)
	}
	idToken, err := p.cfg.IDTokens.Sign(ctx, auth.IDTokenRequest{
		User:     user,
		Audience: service.Identifier,
		Claims:   auth.ReleasedClaims(service.Permissions, scopes),
		Nonce:    nonce,
		AuthTime: authTime,
	})
	if err != nil {
		return nil, serverError(err)
	}

	p.metrics.TokenIssued(grant)
	p.record(ctx, auth.ActivityEventTokenIssued, user.ID, service.Identifier, map[string]any{
		"grant_type": grant,
	})
	return &TokenResponse{
		AccessToken: access,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   p.expiresIn(),
		IDToken:     idToken,
		Scope:       strings.Join(scopes, " "),
	}, nil
}

// UserInfo returns the claims the service may see about the token owner.
// serviceID may be empty when the token is valid for exactly one service.
func (p *Provider) UserInfo(ctx context.Context, bearer, serviceID string) (map[string]any, error) {
	token, err := p.cfg.Tokens.Verify(bearer)
	if err != nil {
		return nil, wrapError(ErrorInvalidToken, "the access token is invalid", err)
	}
	if serviceID == "" {
		if len(token.ServiceIDs) != 1 {
			return nil, newError(ErrorInvalidRequest, "the service identifier is required")
		}
		serviceID = token.ServiceIDs[0]
	}
	if !token.AuthenticatedTo(serviceID) {
		return nil, newError(ErrorInsufficientScope, "the access token is not valid for this service")
	}

	service, err := p.cfg.Services.GetByIdentifier(ctx, serviceID)
	if err != nil {
		if auth.IsNotFound(err) {
			return nil, newError(ErrorInvalidToken, "the service no longer exists")
		}
		return nil, serverError(err)
	}
	user, err := p.cfg.Users.Fetch(ctx, token.PrincipalID)
	if err != nil {
		if auth.IsNotFound(err) {
			return nil, newError(ErrorInvalidToken, "the user no longer exists")
		}
		return nil, serverError(err)
	}
	return auth.UserClaims(user, service.Permissions.Claims()), nil
}

// Discovery is the OpenID provider metadata document.
type Discovery struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserInfoEndpoint                  string   `json:"userinfo_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
}

func (p *Provider) Discovery() Discovery {
	base := strings.TrimRight(p.cfg.Issuer, "/") + p.basePath
	return Discovery{
		Issuer:                            p.cfg.Issuer,
		AuthorizationEndpoint:             base + "/authorize",
		TokenEndpoint:                     base + "/token",
		UserInfoEndpoint:                  base + "/userinfo",
		JWKSURI:                           base + "/jwks.json",
		ResponseTypesSupported:            []string{ResponseTypeCode, ResponseTypeToken, ResponseTypeIDToken, ResponseTypeIDTokenToken},
		GrantTypesSupported:               []string{GrantAuthorizationCode, GrantPassword, "implicit"},
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{"RS256"},
		ScopesSupported:                   auth.SupportedScopes(),
		ClaimsSupported:                   auth.SupportedClaims(),
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
	}
}

// JWKS returns the public keys id tokens are signed with.
func (p *Provider) JWKS(ctx context.Context) (*jose.JSONWebKeySet, error) {
	return p.cfg.Keys.PublicJWKS(ctx)
}

func (p *Provider) loadFlow(ctx context.Context, flowID string) (*Flow, *auth.Service, error) {
	flow, err := p.cfg.Flows.Get(ctx, flowID)
	if err != nil {
		if auth.IsNotFound(err) {
			return nil, nil, newError(ErrorInvalidRequest, "unknown or expired authorization flow")
		}
		return nil, nil, serverError(err)
	}
	service, err := p.cfg.Services.GetByIdentifier(ctx, flow.ServiceIdentifier)
	if err != nil {
		if auth.IsNotFound(err) {
			return nil, nil, newError(ErrorInvalidRequest, "the requesting service no longer exists")
		}
		return nil, nil, serverError(err)
	}
	return flow, service, nil
}

func (p *Provider) saveError(flow *Flow, err error) error {
	if auth.IsNotFound(err) {
		return newError(ErrorInvalidRequest, "unknown or expired authorization flow")
	}
	return p.flowError(flow, serverError(err))
}

func (p *Provider) flowError(flow *Flow, e *Error) error {
	if e.Code == ErrorServerError {
		p.logger.Error("authorization flow failed", "flow", flow.ID, "service", flow.ServiceIdentifier, "error", e.cause)
	}
	return e.redirectTo(flow.RedirectURL, flow.State, isImplicit(flow.ResponseType))
}

func (p *Provider) record(ctx context.Context, typ auth.ActivityEventType, userID int64, serviceID string, meta map[string]any) {
	event := auth.ActivityEvent{
		EventType:  typ,
		UserID:     userID,
		ServiceID:  serviceID,
		Metadata:   meta,
		OccurredAt: p.now(),
	}
	if err := p.activity.Record(ctx, event); err != nil {
		p.logger.Warn("failed to record activity", "type", string(typ), "error", err)
	}
}

func (p *Provider) expiresIn() int64 {
	if ttl := p.cfg.Tokens.TTL(); ttl > 0 {
		return int64(ttl / time.Second)
	}
	return 0
}

func supportedResponseType(rt string) bool {
	switch rt {
	case ResponseTypeCode, ResponseTypeToken, ResponseTypeIDToken, ResponseTypeIDTokenToken:
		return true
	}
	return false
}

func responseTypeLabel(rt string) string {
	if supportedResponseType(rt) {
		return rt
	}
	return "unsupported"
}

func isImplicit(rt string) bool {
	return rt != ResponseTypeCode && supportedResponseType(rt)
}

func wantsAccessToken(rt string) bool {
	return rt == ResponseTypeToken || rt == ResponseTypeIDTokenToken
}

func wantsIDToken(rt string) bool {
	return rt == ResponseTypeIDToken || rt == ResponseTypeIDTokenToken
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
