package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"studiobook/api"
	"studiobook/db"
	_ "studiobook/docs"
	"studiobook/service/mail"
	"studiobook/service/notify"
	"studiobook/service/payment"
	"studiobook/service/paypal"
	"studiobook/service/security"
	"studiobook/service/sweep"
	"studiobook/service/timetable"
	"studiobook/service/uploader"
	"studiobook/service/worker"
	"studiobook/util"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// @title           Studio booking API
// @version         1.0
// @description     Class bookings, blocks, tickets and payments of a dance studio.
// @BasePath        /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization

const usage = `usage: studiobook <command> [flags]

commands:
  serve                   run the HTTP API (default)
  worker                  run the background task processor and scheduler
  migrate                 migrate the database schema
  cancel-unpaid-bookings  cancel unpaid bookings past their payment time
  create-classes          create this or next week's classes from the timetable
  upload-timetable        create classes from the timetable for a date range
`

type app struct {
	config   *util.Config
	queries  *db.Queries
	notifier *notify.Notifier
}

func main() {
	command := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	// Load config
	config := util.NewConfig()
	if err := config.LoadConfig(".env"); err != nil {
		util.LOGGER.Warn("no .env file, using the environment", "error", err)
	}

	a, err := setup(config, command != "migrate")
	if err != nil {
		util.LOGGER.Error("failed to start", "error", err)
		os.Exit(1)
	}

	switch command {
	case "serve":
		err = a.serve()
	case "worker":
		err = a.worker()
	case "migrate":
		err = a.queries.AutoMigration()
	case "cancel-unpaid-bookings":
		err = a.cancelUnpaidBookings()
	case "create-classes":
		err = a.createClasses(args)
	case "upload-timetable":
		err = a.uploadTimetable(args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		util.LOGGER.Error("command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

// Connect to the database and Redis, and build the notifier
func setup(config *util.Config, migrate bool) (*app, error) {
	queries := db.NewQueries()
	if err := queries.Connect(config.DBDriver, config.DBDSN); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if migrate {
		if err := queries.AutoMigration(); err != nil {
			return nil, fmt.Errorf("failed to run auto migration: %w", err)
		}
	}

	// Redis only backs the IPN lock here, the server still runs without it
	if config.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := queries.ConnectRedis(ctx, &redis.Options{Addr: config.RedisAddr}); err != nil {
			util.LOGGER.Warn("failed to connect to Redis, IPN locking disabled", "error", err)
		}
	}

	var mailer mail.MailService = mail.NewOutbox()
	if config.Email != "" && config.AppPassword != "" {
		mailer = mail.NewEmailService(config.SMTPHost, config.SMTPPort, config.Email, config.AppPassword, config.DefaultFromEmail)
	} else {
		util.LOGGER.Warn("no SMTP credentials, emails are kept in memory")
	}

	return &app{
		config:   config,
		queries:  queries,
		notifier: notify.NewNotifier(mailer, notify.SettingsFromConfig(config)),
	}, nil
}

func (a *app) redisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: a.config.RedisAddr}
}

func (a *app) serve() error {
	if a.config.SecretKey == "" {
		return fmt.Errorf("SECRET_KEY is required")
	}
	if a.config.StripeSecretKey != "" {
		payment.InitStripe(a.config.StripeSecretKey)
	}

	var verifier paypal.Verifier
	if a.config.PaypalVerify {
		verifier = paypal.NewPostback(a.config.PaypalPostbackURL)
	}

	jwtService := security.NewJWTService([]byte(a.config.SecretKey), a.config.TokenExpiration)
	distributor := worker.NewRedisTaskDistributor(a.redisOpt())
	defer distributor.Close()

	server := api.NewServer(a.config, a.queries, jwtService, distributor, a.notifier, verifier)
	return server.Start()
}

func (a *app) worker() error {
	var images uploader.Uploader = uploader.DataURL{}
	if a.config.CloudStorageName != "" {
		cld, err := uploader.NewCld(a.config.CloudStorageName, a.config.CloudStorageKey, a.config.CloudStorageSecret, "studiobook/tickets")
		if err != nil {
			return fmt.Errorf("failed to initialize Cloudinary service: %w", err)
		}
		images = cld
	}

	processor := worker.NewRedisTaskProcessor(a.redisOpt(), a.config.MaxWorkers, a.queries, a.notifier, images)
	if err := processor.Start(); err != nil {
		return err
	}
	defer processor.Shutdown()

	scheduler, err := worker.NewScheduler(a.redisOpt(), a.config.SweepCron, a.config.TimetableCron)
	if err != nil {
		return fmt.Errorf("failed to register periodic tasks: %w", err)
	}
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Shutdown()

	util.LOGGER.Info("worker started", "concurrency", a.config.MaxWorkers)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	util.LOGGER.Info("worker shutting down")
	return nil
}

func (a *app) cancelUnpaidBookings() error {
	cancelled, err := sweep.NewService(a.queries.DB, a.notifier).CancelUnpaidBookings(context.Background(), db.Now())
	if err != nil {
		return err
	}
	fmt.Printf("%d bookings cancelled\n", len(cancelled))
	return nil
}

func (a *app) createClasses(args []string) error {
	fs := flag.NewFlagSet("create-classes", flag.ExitOnError)
	week := fs.String("week", timetable.NextWeek, "this or next")
	date := fs.String("date", "", "reference date, YYYY-MM-DD (default today)")
	fs.Parse(args)

	ref := db.Now()
	if *date != "" {
		var err error
		if ref, err = time.Parse(time.DateOnly, *date); err != nil {
			return fmt.Errorf("invalid date %q: %w", *date, err)
		}
	}

	result, err := timetable.NewService(a.queries.DB).CreateClasses(context.Background(), *week, ref)
	if err != nil {
		return err
	}
	for _, event := range result.Created {
		fmt.Printf("created %s\n", event.String())
	}
	for _, event := range result.Existing {
		fmt.Printf("already exists %s\n", event.String())
	}
	return nil
}

func (a *app) uploadTimetable(args []string) error {
	fs := flag.NewFlagSet("upload-timetable", flag.ExitOnError)
	start := fs.String("start", "", "first day, YYYY-MM-DD")
	end := fs.String("end", "", "last day, YYYY-MM-DD")
	fs.Parse(args)

	from, err := time.Parse(time.DateOnly, *start)
	if err != nil {
		return fmt.Errorf("invalid start date %q: %w", *start, err)
	}
	to, err := time.Parse(time.DateOnly, *end)
	if err != nil {
		return fmt.Errorf("invalid end date %q: %w", *end, err)
	}

	result, err := timetable.NewService(a.queries.DB).UploadTimetable(context.Background(), from, to, nil)
	if err != nil {
		return err
	}
	for _, day := range result.Days {
		fmt.Printf("%s: %d created, %d existing\n", day.Date, day.Created, day.Existing)
	}
	return nil
}
