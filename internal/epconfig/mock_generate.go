package epconfig

//go:generate -command mockgen mockgen -package=epconfig -self_package=github.com/aikido-oss/safechain-proxy/internal/epconfig
//go:generate mockgen -destination=./httpdoer_mock.go github.com/aikido-oss/safechain-proxy/internal/epconfig HTTPDoer
