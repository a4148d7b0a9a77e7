package config

import "time"

type Config struct {
	Log         Log
	HTTP        HTTPServer
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	DatabaseURL string `env:"DATABASE_URL"`

	Client    ClientURLs `envPrefix:"CLIENT_"`
	Auth      Auth       `envPrefix:"AUTH_"`
	Payment   Payment    `envPrefix:"PAYMENT_"`
	Bank      Bank       `envPrefix:"BANK_"`
	VNPay     VNPay      `envPrefix:"VNPAY_"`
	MoMo      MoMo       `envPrefix:"MOMO_"`
	Paypal    Paypal     `envPrefix:"PAYPAL_"`
	BrainTree Braintree  `envPrefix:"BRAINTREE_"`
}

// ClientURLs are where the browser lands after a gateway return.
type ClientURLs struct {
	SuccessURL string `env:"SUCCESS_URL" envDefault:"http://localhost:3000/payment/success"`
	FailureURL string `env:"FAILURE_URL" envDefault:"http://localhost:3000/payment/failure"`
}

type Auth struct {
	JWTSecret string `env:"JWT_SECRET"`
}

// Payment holds the lifecycle constants. Amounts are in VND.
type Payment struct {
	AmountTolerance int64         `env:"AMOUNT_TOLERANCE" envDefault:"1000"`
	GraceWindow     time.Duration `env:"GRACE_WINDOW" envDefault:"30m"`
	ReturnWindow    time.Duration `env:"RETURN_WINDOW" envDefault:"30m"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	VATPercent      int64         `env:"VAT_PERCENT" envDefault:"8"`
	GatewayTimeout  time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"15s"`
	// VND per 1 USD, used by the card gateways.
	USDRate               int64 `env:"USD_RATE" envDefault:"25000"`
	LoyaltyAmountPerPoint int64 `env:"LOYALTY_AMOUNT_PER_POINT" envDefault:"10000"`
}

type Bank struct {
	BIN           string `env:"BIN" envDefault:"970436"`
	AccountNumber string `env:"ACCOUNT_NUMBER"`
	AccountName   string `env:"ACCOUNT_NAME"`
	BankName      string `env:"NAME" envDefault:"Vietcombank"`
}

type VNPay struct {
	PayURL     string `env:"PAY_URL" envDefault:"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"`
	TmnCode    string `env:"TMN_CODE"`
	HashSecret string `env:"HASH_SECRET"`
}

type MoMo struct {
	Endpoint    string `env:"ENDPOINT" envDefault:"https://test-payment.momo.vn"`
	PartnerCode string `env:"PARTNER_CODE"`
	AccessKey   string `env:"ACCESS_KEY"`
	SecretKey   string `env:"SECRET_KEY"`
}

type Paypal struct {
	BaseApiURL   string `env:"BASE_API_URL" envDefault:"https://api-m.sandbox.paypal.com"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

type Braintree struct {
	Environment string `env:"ENVIRONMENT"`
	MerchantID  string `env:"MERCHANT_ID"`
	PublicKey   string `env:"PUBLIC_KEY"`
	PrivateKey  string `env:"PRIVATE_KEY"`
	// Client page hosting the drop-in UI; it posts the nonce back to us.
	CheckoutURL string `env:"CHECKOUT_URL" envDefault:"http://localhost:3000/checkout/braintree"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}
