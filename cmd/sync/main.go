package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/athebyme/gomarket-sync/config"
	"github.com/athebyme/gomarket-sync/internal/adapters/logger"
	"github.com/athebyme/gomarket-sync/internal/app"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("catalog-sync", pflag.ContinueOnError)
	configPath := flags.String("config", "", "путь к файлу конфигурации")
	choiceFile := flags.String("choice", "", "JSON файл с записью выбора")
	envFile := flags.String("env-file", ".env", "файл с учетными данными маркетплейсов")
	flags.String("operation", "update", "операция: create, update, delete")
	flags.String("options", "full", "уточнение: full, qty, price, info, copy, none")
	flags.String("source", "", "маркетплейс-источник для copy")
	flags.String("target", "", "маркетплейс-цель")
	flags.Bool("use-local-data", false, "читать каталоги из зеркала вместо маркетплейсов")
	flags.StringSlice("stock-codes", nil, "stock code через запятую")
	flags.StringSlice("fields", nil, "поля для update-by-id: quantity, sale_price, list_price")
	flags.Int("quantity", -1, "остаток для update-by-id")
	flags.String("sale-price", "", "цена продажи для update-by-id")
	flags.String("list-price", "", "цена из списка для update-by-id")
	flags.Bool("dry-run", false, "только спланировать намерения")
	flags.String("log-level", "", "уровень логирования")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return models.ExitOK
		}
		fmt.Fprintln(os.Stderr, err)
		return models.ExitConfigError
	}

	v := viper.New()
	_ = v.BindPFlag("run.dryRun", flags.Lookup("dry-run"))
	_ = v.BindPFlag("logLevel", flags.Lookup("log-level"))
	cfg, err := config.LoadWith(v, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		return models.ExitConfigError
	}

	log, err := logger.NewZapLogger(cfg.LogLevel, cfg.ENV == "production")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка инициализации логгера: %v\n", err)
		return models.ExitConfigError
	}
	defer log.Sync()

	choice, err := readChoice(flags, *choiceFile)
	if err != nil {
		log.Error("Некорректная запись выбора", interfaces.LogField{Key: "error", Value: err.Error()})
		return models.ExitConfigError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Bootstrap(ctx, cfg, config.LoadCredentials(*envFile), log, app.Options{})
	if err != nil {
		log.Error("Ошибка инициализации", interfaces.LogField{Key: "error", Value: err.Error()})
		return models.ExitConfigError
	}
	defer a.Close()

	report, err := a.Orchestrator.Run(ctx, choice)
	if err != nil {
		log.Error("Прогон не начат", interfaces.LogField{Key: "error", Value: err.Error()})
		if errors.Is(err, apperrors.ErrLockNotAcquired) {
			fmt.Fprintln(os.Stderr, "другой прогон уже выполняется")
		}
		return models.ExitConfigError
	}

	snap := report.Snapshot()
	if err := snap.Render(os.Stdout); err != nil {
		log.Error("Ошибка вывода отчета", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	return snap.ExitCode
}

// readChoice читает запись выбора из JSON файла, иначе собирает ее из флагов
func readChoice(flags *pflag.FlagSet, path string) (models.Choice, error) {
	var choice models.Choice
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return choice, fmt.Errorf("ошибка чтения %s: %w", path, err)
		}
		if err := json.Unmarshal(raw, &choice); err != nil {
			return choice, fmt.Errorf("ошибка разбора %s: %w", path, err)
		}
		return choice, nil
	}

	str := func(name string) string {
		s, _ := flags.GetString(name)
		return s
	}
	choice.Operation = models.Operation(str("operation"))
	choice.Options = models.Option(str("options"))
	choice.Source = models.Marketplace(str("source"))
	choice.Target = models.Marketplace(str("target"))
	choice.SalePrice = str("sale-price")
	choice.ListPrice = str("list-price")
	choice.UseLocalData, _ = flags.GetBool("use-local-data")
	choice.StockCodes, _ = flags.GetStringSlice("stock-codes")
	choice.Fields, _ = flags.GetStringSlice("fields")
	if q, _ := flags.GetInt("quantity"); flags.Changed("quantity") {
		choice.Quantity = &q
	}
	return choice, nil
}
