// Команда oauth1-setup проводит трехногий поток OAuth1 Etsy и печатает строки
// для .env с полученным access token.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/athebyme/gomarket-sync/config"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace/etsy"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace/transport"
	"github.com/spf13/pflag"
)

func main() {
	envFile := pflag.String("env-file", ".env", "файл с ETSY_CONSUMER_KEY и ETSY_CONSUMER_SECRET")
	callback := pflag.String("callback", "oob", "callback URL приложения Etsy")
	pflag.Parse()

	creds := config.LoadCredentials(*envFile)
	if creds.Etsy.ConsumerKey == "" || creds.Etsy.ConsumerSecret == "" {
		fmt.Fprintln(os.Stderr, "ETSY_CONSUMER_KEY и ETSY_CONSUMER_SECRET обязательны")
		os.Exit(2)
	}
	opts := transport.OAuth1Options{
		ConsumerKey:    creds.Etsy.ConsumerKey,
		ConsumerSecret: creds.Etsy.ConsumerSecret,
		Endpoint:       etsy.Endpoint,
		CallbackURL:    *callback,
	}

	requestToken, requestSecret, authURL, err := transport.RequestAuthorization(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка получения request token: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Откройте адрес и разрешите доступ:\n%s\n\nVerifier: ", authURL)

	verifier, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && verifier == "" {
		fmt.Fprintf(os.Stderr, "Ошибка чтения verifier: %v\n", err)
		os.Exit(1)
	}
	verifier = strings.TrimSpace(verifier)

	token, secret, err := transport.ExchangeVerifier(context.Background(), opts, requestToken, requestSecret, verifier)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка обмена verifier: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nETSY_ACCESS_TOKEN=%s\nETSY_ACCESS_SECRET=%s\n", token, secret)
}
