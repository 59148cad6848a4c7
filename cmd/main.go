package main

import (
	"context"
	"math/big"
	"os"

	"github.com/ChoSanghyuk/gaslessbridge"
	"github.com/ChoSanghyuk/gaslessbridge/configs"
	"github.com/ChoSanghyuk/gaslessbridge/internal/api"
	"github.com/ChoSanghyuk/gaslessbridge/internal/db"
	"github.com/ChoSanghyuk/gaslessbridge/internal/payment"
	"github.com/ChoSanghyuk/gaslessbridge/internal/quote"
	"github.com/ChoSanghyuk/gaslessbridge/internal/reserve"
	"github.com/ChoSanghyuk/gaslessbridge/internal/settlement"
	"github.com/ChoSanghyuk/gaslessbridge/pkg/cache"
	"github.com/ChoSanghyuk/gaslessbridge/pkg/gasestimator"
	"github.com/ChoSanghyuk/gaslessbridge/pkg/pricefeed"
	"github.com/ChoSanghyuk/gaslessbridge/pkg/rpcclient"
	"github.com/ChoSanghyuk/gaslessbridge/pkg/signer"
	"github.com/ChoSanghyuk/gaslessbridge/pkg/sourceledger"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	conf, err := configs.LoadConfig("configs/config.yml")
	if err != nil {
		log.Fatal("loading config", zap.Error(err))
	}

	dsn := os.Getenv("BRIDGE_DB_DSN")
	if dsn == "" {
		log.Fatal("BRIDGE_DB_DSN not set")
	}
	store, err := db.Open(dsn)
	if err != nil {
		log.Fatal("opening database", zap.Error(err))
	}
	defer store.Close()

	overrides, err := store.LoadConfigOverrides()
	if err != nil {
		log.Fatal("loading persisted config overrides", zap.Error(err))
	}
	if raw, ok := overrides[gaslessbridge.ConfigOverrideKey]; ok {
		conf.Bridge, err = gaslessbridge.ApplyConfigOverride(conf.Bridge, raw)
		if err != nil {
			log.Fatal("applying persisted config override", zap.Error(err))
		}
		log.Info("applied persisted update_config override from a previous run")
	}
	if err := conf.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	if err := store.SeedAdmins(conf.Bridge.Admins); err != nil {
		log.Fatal("seeding bootstrap admins", zap.Error(err))
	}

	signerKeyHex := os.Getenv("BRIDGE_SIGNER_KEY")
	if signerKeyHex == "" {
		log.Fatal("BRIDGE_SIGNER_KEY not set")
	}
	pk, err := crypto.HexToECDSA(signerKeyHex)
	if err != nil {
		log.Fatal("parsing signer key", zap.Error(err))
	}
	sgnr := signer.NewSingleKeySigner(pk)
	bridgeAddr := crypto.PubkeyToAddress(pk.PublicKey)

	var rdb *redis.Client
	if addr := os.Getenv("BRIDGE_REDIS_ADDR"); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
	}
	rpcCache, err := cache.New(1024, rdb)
	if err != nil {
		log.Fatal("building rpc cache", zap.Error(err))
	}
	priceCache, err := cache.New(256, rdb)
	if err != nil {
		log.Fatal("building price cache", zap.Error(err))
	}

	reserves := reserve.New()
	rpcClients := make(map[int64]*rpcclient.Client)
	rpcSources := make(map[int64]settlement.RpcSource)
	gasEstimators := make(map[int64]*gasestimator.Estimator)
	nativeAsset := make(map[int64]string)
	ledgerClients := make(map[int64]*ethclient.Client)

	ctx := context.Background()
	for _, chain := range conf.Bridge.SupportedChains {
		c, err := rpcclient.Dial(ctx, chain.ChainID, chain.RpcURLs, rpcCache)
		if err != nil {
			log.Fatal("dialing chain RPC endpoints", zap.Int64("chainId", chain.ChainID), zap.Error(err))
		}
		rpcClients[chain.ChainID] = c
		rpcSources[chain.ChainID] = c
		gasEstimators[chain.ChainID] = gasestimator.New(c, conf.Bridge.GasSafetyMarginPct)
		nativeAsset[chain.ChainID] = chain.NativeAsset
		reserves.Topup(chain.ChainID, chain.NativeAsset, big.NewInt(0))

		if ec, err := ethclient.DialContext(ctx, chain.RpcURLs[0]); err == nil {
			ledgerClients[chain.ChainID] = ec
		} else {
			log.Warn("source ledger dial failed, payment verification on this chain degraded", zap.Int64("chainId", chain.ChainID), zap.Error(err))
		}

		log.Info("chain configured", zap.Int64("chainId", chain.ChainID), zap.String("name", chain.Name))
	}

	// Two independent public sources so a single upstream outage doesn't
	// stall quoting: neither is authoritative, the feed picks the
	// freshest, highest-confidence sample per asset across both.
	prices := pricefeed.New([]pricefeed.Source{
		pricefeed.NewHTTPSource("coingecko", "https://api.coingecko.com/api/v3/simple/price", map[string]string{
			"ETH":  "ethereum",
			"USDC": "usd-coin",
			"USDT": "tether",
		}),
		pricefeed.NewHTTPSource("coingecko-pro", "https://pro-api.coingecko.com/api/v3/simple/price", map[string]string{
			"ETH":  "ethereum",
			"USDC": "usd-coin",
			"USDT": "tether",
		}),
	}, priceCache)

	quoteEngine := quote.New(store, reserves, prices, gasEstimators, nativeAsset, conf.Bridge)
	ledger := sourceledger.NewMultiChainLedger(ledgerClients)
	verifier := payment.New(ledger, store, bridgeAddr.Hex())
	settlementEngine := settlement.New(store, reserves, quoteEngine, verifier, sgnr, bridgeAddr, rpcSources, gasEstimators, conf.Bridge.MaxSettlementRetries)

	engine := gaslessbridge.NewEngine(quoteEngine, settlementEngine, reserves, store, store, conf.Bridge)

	router := api.NewRouter(engine, reserves, rpcClients, prices, log)

	log.Info("bridge listening", zap.String("addr", conf.ListenAddr))
	if err := router.Run(conf.ListenAddr); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}
