package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ivlev/animexport/internal/api"
	"github.com/ivlev/animexport/internal/config"
	"github.com/ivlev/animexport/internal/export"
	"github.com/ivlev/animexport/internal/export/formats"
	"github.com/ivlev/animexport/internal/logging"
	"github.com/ivlev/animexport/internal/project"
	"github.com/ivlev/animexport/internal/source"
	"github.com/ivlev/animexport/internal/system"
	"github.com/ivlev/animexport/internal/video"
)

// Задаётся при сборке через -ldflags.
var version = "dev"

func main() {
	inputPtr := flag.String("input", "", "Путь к проекту YAML/JSON (по умолчанию: самый свежий файл в input/projects/)")
	outputPtr := flag.String("output", "", "Файл или папка для результата (по умолчанию: output/)")
	configPtr := flag.String("config", "", "Путь к файлу конфигурации YAML")
	formatPtr := flag.String("format", "", "Формат: png, gif, mp4, webm")
	presetPtr := flag.String("preset", "", "Пресет платформы (см. -list)")
	platformPtr := flag.String("platform", "", "Быстрый экспорт: instagram, tiktok, youtube, twitter, discord")
	widthPtr := flag.Int("width", 0, "Ширина")
	heightPtr := flag.Int("height", 0, "Высота")
	fpsPtr := flag.Int("fps", 0, "FPS")
	durationPtr := flag.Float64("duration", 0, "Длительность в миллисекундах")
	qualityPtr := flag.Float64("quality", 0, "Качество 0..1")
	bitratePtr := flag.Int("bitrate", 0, "Битрейт видео в бит/с (0 - по качеству)")
	backgroundPtr := flag.String("background", "", "Цвет фона, например #202020")
	compressionPtr := flag.String("compression", "", "Сжатие PNG: default, none, speed, best")
	transparentPtr := flag.Bool("transparent", false, "Прозрачный фон (png, gif, webm)")
	loopPtr := flag.Bool("loop", true, "Зациклить GIF")
	batchPtr := flag.String("batch", "", "Несколько форматов через запятую, например png,gif,mp4")
	workersPtr := flag.Int("workers", 0, "Потоки квантования GIF (0 - все ядра)")
	realtimePtr := flag.Bool("realtime", false, "Запись видео в реальном времени с дублированием кадров")
	servePtr := flag.String("serve", "", "Запустить HTTP API по адресу, например :8790")
	listPtr := flag.Bool("list", false, "Показать форматы и пресеты")
	preflightPtr := flag.Bool("preflight", false, "Только оценить экспорт, без рендеринга")
	logLevelPtr := flag.String("log-level", "", "Уровень логов: debug, info, warn, error")

	flag.Parse()

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg, err := config.Load(*configPtr)
	if err != nil {
		log.Fatalf("[-] Ошибка конфигурации: %v", err)
	}
	cfg.BuildVersion = version
	if set["workers"] {
		cfg.Workers = *workersPtr
	}
	if set["realtime"] {
		cfg.Realtime = *realtimePtr
	}
	if set["log-level"] {
		cfg.LogLevel = *logLevelPtr
	}
	if *servePtr != "" {
		cfg.ListenAddr = *servePtr
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	// Увеличиваем лимиты системы (для macOS/Linux)
	system.InitResourceLimits(logger)

	for _, d := range []string{cfg.InputDir, cfg.OutputDir} {
		os.MkdirAll(d, 0755)
	}

	svc, reg, err := newService(cfg, logger)
	if err != nil {
		log.Fatalf("[-] Ошибка инициализации: %v", err)
	}

	patch := buildPatch(set, patchFlags{
		format:      formatPtr,
		width:       widthPtr,
		height:      heightPtr,
		fps:         fpsPtr,
		duration:    durationPtr,
		quality:     qualityPtr,
		bitrate:     bitratePtr,
		background:  backgroundPtr,
		compression: compressionPtr,
		transparent: transparentPtr,
		loop:        loopPtr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, svc, logger, runOptions{
		input:     *inputPtr,
		output:    *outputPtr,
		preset:    *presetPtr,
		platform:  *platformPtr,
		batch:     *batchPtr,
		serve:     *servePtr != "",
		list:      *listPtr,
		preflight: *preflightPtr,
		patch:     patch,
	})
	stop()

	// os.Exit skips deferred calls, so running exports are stopped first.
	if err := closeRegistry(reg, 10*time.Second); err != nil {
		log.Printf("[!] Не все экспорты остановлены: %v", err)
	}
	os.Exit(code)
}

type runOptions struct {
	input     string
	output    string
	preset    string
	platform  string
	batch     string
	serve     bool
	list      bool
	preflight bool
	patch     export.SettingsPatch
}

// run executes the selected mode and returns the process exit code.
func run(ctx context.Context, cfg config.Config, svc *export.Service, logger *slog.Logger, opts runOptions) int {
	if opts.list {
		printCatalog(svc)
		return 0
	}
	if opts.serve {
		if err := serve(ctx, cfg, svc, logger); err != nil {
			log.Printf("[-] Ошибка сервера: %v", err)
			return 1
		}
		return 0
	}

	presetID := opts.preset
	if opts.platform != "" {
		id, ok := export.QuickPlatforms[opts.platform]
		if !ok {
			log.Printf("[-] Неизвестная платформа: %s", opts.platform)
			return 1
		}
		presetID = id
	}

	if opts.preflight {
		return runPreflight(ctx, svc, presetID, opts.patch)
	}

	inputPath := opts.input
	if inputPath == "" {
		latest, err := system.FindLatestFile(cfg.InputDir, ".yaml", ".yml", ".json")
		if err != nil {
			log.Printf("[-] Ошибка: %v. Положите проект в %s/", err, cfg.InputDir)
			return 1
		}
		inputPath = latest
		fmt.Printf("[*] Выбран файл: %s\n", inputPath)
	}

	src, err := source.NewFileSource(inputPath)
	if err != nil {
		log.Printf("[-] Ошибка открытия проекта: %v", err)
		return 1
	}
	p, err := src.Snapshot()
	if err != nil {
		log.Printf("[-] Ошибка чтения проекта: %v", err)
		return 1
	}

	fmt.Println("--- [PROJECT: ANIMATION EXPORT] ---")
	fmt.Printf("[*] Проект: %s | Слоёв: %d | Фигур: %d\n", p.Name, len(p.Layers), p.ShapeCount())
	fmt.Printf("[*] Холст: %dx%d | Анимация: %.0f мс\n", p.Width, p.Height, p.AnimationLength())
	fmt.Println("-----------------------------------")

	if opts.batch != "" {
		if runBatch(ctx, svc, p, strings.Split(opts.batch, ","), opts.patch, outputDir(opts.output, cfg.OutputDir)) > 0 {
			return 1
		}
		return 0
	}

	if err := runSingle(ctx, svc, p, presetID, opts.patch, opts.output, cfg.OutputDir); err != nil {
		log.Printf("[-] %v", err)
		return 1
	}
	return 0
}

// closeRegistry cancels running exports and waits for their plugins to return.
func closeRegistry(reg *export.Registry, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return reg.Close(ctx)
}

func newService(cfg config.Config, logger *slog.Logger) (*export.Service, *export.Registry, error) {
	catalog := export.DefaultCatalog()
	if cfg.PresetsPath != "" {
		c, err := export.LoadCatalog(cfg.PresetsPath)
		if err != nil {
			return nil, nil, err
		}
		catalog = c
	}

	reg := export.NewRegistry(export.Options{
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		PollInterval:      cfg.PollInterval,
		JobTimeout:        cfg.JobTimeout,
		Logger:            logger,
	})

	encoder := ""
	if cfg.VideoEncoder != "" && cfg.VideoEncoder != "auto" {
		encoder = cfg.VideoEncoder
	} else if path, err := system.LookFFmpeg(cfg.FFmpegPath); err == nil {
		if encoders, err := system.Encoders(path); err == nil {
			encoder = system.BestH264Encoder(encoders)
			if encoder != "libx264" {
				fmt.Printf("[*] Обнаружено аппаратное ускорение: %s\n", encoder)
			}
		}
	} else {
		fmt.Println("[!] ffmpeg не найден: mp4 и webm недоступны")
	}

	opener := video.NewFFmpegOpener(cfg.FFmpegPath, encoder, logger)
	formats.RegisterDefaults(reg, formats.Deps{
		Opener:   opener,
		Workers:  cfg.Workers,
		Realtime: cfg.Realtime,
	})

	return export.NewService(reg, catalog, nil, logger), reg, nil
}

type patchFlags struct {
	format, background, compression *string
	width, height, fps, bitrate     *int
	duration, quality               *float64
	transparent, loop               *bool
}

// buildPatch keeps only the flags given on the command line so presets and
// plugin defaults are not overwritten by flag defaults.
func buildPatch(set map[string]bool, f patchFlags) export.SettingsPatch {
	var patch export.SettingsPatch
	if set["format"] {
		patch.Format = f.format
	}
	if set["width"] {
		patch.Width = f.width
	}
	if set["height"] {
		patch.Height = f.height
	}
	if set["fps"] {
		patch.FPS = f.fps
	}
	if set["duration"] {
		patch.Duration = f.duration
	}
	if set["quality"] {
		patch.Quality = f.quality
	}
	if set["bitrate"] {
		patch.Bitrate = f.bitrate
	}
	if set["background"] {
		patch.Background = f.background
	}
	if set["compression"] {
		patch.Compression = f.compression
	}
	if set["transparent"] {
		patch.Transparent = f.transparent
	}
	if set["loop"] {
		patch.Loop = f.loop
	}
	return patch
}

func runSingle(ctx context.Context, svc *export.Service, p *project.Project, presetID string, patch export.SettingsPatch, output, defaultDir string) error {
	printer := newProgressPrinter(os.Stdout)
	ticket, err := svc.Export(ctx, export.Request{
		Project:   p,
		PresetID:  presetID,
		Overrides: patch,
	})
	if err != nil {
		var ve *export.ValidationError
		if errors.As(err, &ve) {
			for _, msg := range ve.Errors {
				fmt.Printf("[!] %s\n", msg)
			}
			return errors.New("настройки экспорта не прошли проверку")
		}
		return err
	}

	job, _ := svc.JobStatus(ticket.ID)
	fmt.Printf("[*] Формат: %s | %dx%d @ %d FPS | %.0f мс\n",
		job.Settings.Format, job.Settings.Width, job.Settings.Height, job.Settings.FPS, job.Settings.Duration)

	for ev := range ticket.Progress() {
		printer.Print(ev)
	}
	printer.Done()

	res, _ := ticket.Wait(context.Background())
	switch {
	case res == nil:
		return errors.New("экспорт завершился без результата")
	case res.Code == export.CodeCancelled:
		return errors.New("экспорт отменён")
	case !res.Success:
		return fmt.Errorf("экспорт не удался: %s: %s", res.Code, res.Error)
	}

	path, err := save(res, output, defaultDir)
	if err != nil {
		return fmt.Errorf("не удалось сохранить результат: %w", err)
	}
	if exceeds, _ := res.Metadata["exceedsRecommendedSize"].(bool); exceeds {
		fmt.Printf("[!] Файл больше рекомендованного размера для %s\n", presetID)
	}
	fmt.Printf("[+++] Успех! Результат: %s (%s)\n", path, humanSize(res.Size))
	return nil
}

func runBatch(ctx context.Context, svc *export.Service, p *project.Project, list []string, patch export.SettingsPatch, dir string) int {
	var formatsList []string
	for _, f := range list {
		if f = strings.TrimSpace(f); f != "" {
			formatsList = append(formatsList, f)
		}
	}
	fmt.Printf("[*] Пакетный экспорт: %s\n", strings.Join(formatsList, ", "))

	failed := 0
	results := svc.BatchExport(ctx, p, nil, formatsList, patch)
	for _, f := range formatsList {
		res := results[f]
		if !res.Success {
			failed++
			fmt.Printf("[!] %s: %s: %s\n", f, res.Code, res.Error)
			continue
		}
		path, err := export.SaveResult(res, dir)
		if err != nil {
			failed++
			fmt.Printf("[!] %s: не удалось сохранить: %v\n", f, err)
			continue
		}
		fmt.Printf("[+] %s: %s (%s)\n", f, path, humanSize(res.Size))
	}
	if failed == 0 {
		fmt.Println("[+++] Успех! Все форматы экспортированы")
	}
	return failed
}

func outputDir(output, defaultDir string) string {
	if output == "" {
		return defaultDir
	}
	return output
}

// save writes res to output: a path with an extension is used as the file
// name, anything else as a directory.
func save(res *export.Result, output, defaultDir string) (string, error) {
	if output != "" && filepath.Ext(output) != "" {
		res.Filename = filepath.Base(output)
		return export.SaveResult(res, filepath.Dir(output))
	}
	return export.SaveResult(res, outputDir(output, defaultDir))
}

func runPreflight(ctx context.Context, svc *export.Service, presetID string, patch export.SettingsPatch) int {
	settings, err := svc.ResolveSettings(presetID, patch)
	if err != nil {
		log.Printf("[-] %v", err)
		return 1
	}
	report, err := svc.Preflight(ctx, settings)
	if err != nil {
		log.Printf("[-] %v", err)
		return 1
	}
	fmt.Printf("[*] Формат: %s | %dx%d @ %d FPS | %.0f мс\n", settings.Format, settings.Width, settings.Height, settings.FPS, settings.Duration)
	fmt.Printf("[*] Кадров: %d | Оценка времени: %s | Память: %s\n",
		report.Frames, report.EstimatedTime.Round(time.Millisecond), humanSize(int(report.MemoryRequired)))
	for _, w := range report.Warnings {
		fmt.Printf("[!] %s\n", w)
	}
	for _, e := range report.Problems {
		fmt.Printf("[-] %s\n", e)
	}
	if len(report.Problems) > 0 {
		return 1
	}
	return 0
}

func printCatalog(svc *export.Service) {
	fmt.Println("[*] Форматы:")
	for _, st := range svc.Plugins() {
		state := "доступен"
		if !st.Enabled {
			state = "недоступен"
		}
		fmt.Printf("    %-5s %-14s %s (%s)\n", st.Info.ID, st.Info.Name, st.Info.Description, state)
	}
	fmt.Println("[*] Пресеты:")
	for _, p := range svc.Presets() {
		fmt.Printf("    %-16s %-16s %s %v\n", p.ID, p.Name, p.Description, p.SupportedFormats)
	}
}

func serve(ctx context.Context, cfg config.Config, svc *export.Service, logger *slog.Logger) error {
	srv := api.NewServer(api.ServerConfig{
		Addr:      cfg.ListenAddr,
		Service:   svc,
		Logger:    logging.WithComponent(logger, "api"),
		StartTime: time.Now(),
		Version:   cfg.BuildVersion,
	})
	fmt.Printf("[*] HTTP API: %s\n", cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
