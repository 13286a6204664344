package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/romanticbot/internal/models"
	"github.com/example/romanticbot/internal/service"
)

// Telegram Stars invoices use the XTR currency and an empty provider token.
const starsCurrency = "XTR"

var errPhotoNotImage = errors.New("photo not image")

type Bot struct {
	api        *tgbotapi.BotAPI
	log        *slog.Logger
	users      *service.UserService
	pipeline   *service.PipelineService
	quota      *service.QuotaService
	payments   *service.PaymentService
	httpClient *http.Client
}

func NewBot(api *tgbotapi.BotAPI, log *slog.Logger, users *service.UserService, pipeline *service.PipelineService, quota *service.QuotaService, payments *service.PaymentService) *Bot {
	return &Bot{
		api:        api,
		log:        log,
		users:      users,
		pipeline:   pipeline,
		quota:      quota,
		payments:   payments,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started")

	for {
		select {
		case update := <-updates:
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			} else if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
			} else if update.PreCheckoutQuery != nil {
				b.handlePreCheckout(update.PreCheckoutQuery)
			}
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.SuccessfulPayment != nil {
		b.handleSuccessfulPayment(ctx, msg)
		return
	}

	if len(msg.Photo) > 0 {
		b.handlePhoto(ctx, msg)
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	b.sendText(msg.Chat.ID, "Отправьте /generate, чтобы создать романтическое видео, или /help для справки.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	user, _, err := b.ensureUser(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		b.log.Error("ensure user", "err", err)
		return
	}

	switch msg.Command() {
	case "start":
		b.sendMarkdown(msg.Chat.ID, fmt.Sprintf(
			"🌹 *Добро пожаловать в Romantic Video Bot!* 🌹\n\n"+
				"Этот бот создает романтические видео из ваших фотографий!\n\n"+
				"*Как это работает:*\n"+
				"1️⃣ Отправьте команду /generate\n"+
				"2️⃣ Загрузите 2 фотографии (себя и партнера)\n"+
				"3️⃣ Получите красивое романтическое видео!\n\n"+
				"*Лимиты:*\n"+
				"• %d бесплатная генерация\n"+
				"• Дополнительные генерации за Telegram Stars ⭐\n\n"+
				"*Команды:*\n"+
				"/generate — начать создание видео\n"+
				"/stats — посмотреть статистику\n"+
				"/buy — купить дополнительные генерации\n"+
				"/reset — сбросить текущую генерацию\n"+
				"/help — помощь\n\n"+
				"Готовы создать что-то волшебное? ✨", 1))
	case "help":
		b.sendMarkdown(msg.Chat.ID,
			"*Помощь по использованию бота* 📖\n\n"+
				"*Как создать видео:*\n"+
				"1. Используйте /generate\n"+
				"2. Отправьте первое фото\n"+
				"3. Отправьте второе фото\n"+
				"4. Дождитесь обработки (может занять несколько минут)\n\n"+
				"*Важно:*\n"+
				"• Фото должны быть четкими и хорошего качества\n"+
				"• На фото должны быть видны лица людей\n"+
				"• Бот создает семейно-дружелюбный контент")
	case "stats":
		b.handleStats(ctx, user, msg.Chat.ID)
	case "generate":
		b.handleGenerate(ctx, user, msg.Chat.ID)
	case "reset":
		b.handleReset(ctx, user, msg.Chat.ID)
	case "buy":
		b.sendBuyKeyboard(msg.Chat.ID)
	default:
		b.sendText(msg.Chat.ID, "Неизвестная команда. Используйте /generate или /help.")
	}
}

func (b *Bot) handleStats(ctx context.Context, user *models.User, chatID int64) {
	stats, err := b.quota.Stats(ctx, user.ID)
	if err != nil {
		b.log.Error("user stats", "user_id", user.ID, "err", err)
		b.sendText(chatID, "❌ Ошибка при получении статистики.")
		return
	}
	freeLeft := 1 - stats.GenerationsUsed
	if freeLeft < 0 {
		freeLeft = 0
	}
	text := fmt.Sprintf(
		"📊 *Ваша статистика:*\n\n"+
			"🎬 Использовано генераций: %d/%d\n"+
			"💎 Куплено генераций: %d\n"+
			"🆓 Осталось бесплатных: %d\n\n",
		stats.GenerationsUsed, stats.TotalAllowed, stats.PaidGenerations, freeLeft)
	if stats.GenerationsUsed >= stats.TotalAllowed {
		text += "⚠️ Лимит исчерпан! Используйте /buy для покупки дополнительных генераций."
	} else {
		text += "✅ У вас есть доступные генерации!"
	}
	b.sendMarkdown(chatID, text)
}

func (b *Bot) handleGenerate(ctx context.Context, user *models.User, chatID int64) {
	_, err := b.pipeline.StartGeneration(ctx, user.ID)
	switch {
	case errors.Is(err, service.ErrQuotaExceeded):
		msg := tgbotapi.NewMessage(chatID, "❌ У вас закончились генерации! Используйте /buy для покупки дополнительных.")
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("💎 Купить генерации", "buy_generations")),
		)
		b.send(msg)
		return
	case errors.Is(err, service.ErrActiveGeneration):
		msg := tgbotapi.NewMessage(chatID, "⚠️ У вас уже есть активная генерация. Используйте /reset чтобы начать заново или дождитесь завершения текущей.")
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔄 Сбросить", "reset_generation")),
		)
		b.send(msg)
		return
	case err != nil:
		b.log.Error("start generation", "user_id", user.ID, "err", err)
		b.sendText(chatID, "❌ Произошла ошибка. Попробуйте позже.")
		return
	}

	b.sendMarkdown(chatID,
		"🎬 *Начинаем создание романтического видео!*\n\n"+
			"📸 Отправьте *первое фото* (себя или партнера)\n\n"+
			"*Требования к фото:*\n"+
			"• Четкое изображение лица\n"+
			"• Хорошее освещение\n"+
			"• Формат: JPG, PNG\n\n"+
			"После первого фото я попрошу второе! 📷✨")
}

func (b *Bot) handleReset(ctx context.Context, user *models.User, chatID int64) {
	_, err := b.pipeline.ResetActive(ctx, user.ID)
	switch {
	case errors.Is(err, service.ErrNoActiveGeneration):
		b.sendText(chatID, "❌ У вас нет активной генерации для сброса.")
	case err != nil:
		b.log.Error("reset generation", "user_id", user.ID, "err", err)
		b.sendText(chatID, "❌ Ошибка при сбросе генерации.")
	default:
		b.sendText(chatID, "✅ Генерация сброшена! Теперь вы можете начать новую с помощью /generate")
	}
}

func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message) {
	user, _, err := b.ensureUser(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		b.log.Error("ensure user photo", "err", err)
		return
	}

	active, err := b.pipeline.ActiveGeneration(ctx, user.ID)
	if err != nil {
		b.log.Error("find active generation", "user_id", user.ID, "err", err)
		b.sendText(msg.Chat.ID, "❌ Ошибка при обработке фото. Попробуйте еще раз.")
		return
	}
	if active == nil {
		b.sendText(msg.Chat.ID, "❌ Сначала используйте команду /generate чтобы начать создание видео!")
		return
	}

	photo := msg.Photo[len(msg.Photo)-1]
	data, contentType, err := b.downloadFile(ctx, photo.FileID)
	if err != nil {
		if errors.Is(err, errPhotoNotImage) {
			b.sendText(msg.Chat.ID, "❌ Это не изображение. Пришлите фото в формате JPG или PNG.")
			return
		}
		b.log.Error("download photo", "user_id", user.ID, "err", err)
		b.sendText(msg.Chat.ID, "❌ Ошибка при обработке фото. Попробуйте еще раз.")
		return
	}

	result, err := b.pipeline.SubmitPhoto(ctx, active.ID, data, contentType)
	switch {
	case errors.Is(err, service.ErrPhotosAlreadyComplete):
		b.sendText(msg.Chat.ID, "❌ Вы уже загрузили оба фото. Дождитесь завершения обработки или используйте /reset")
		return
	case errors.Is(err, service.ErrNotAwaitingPhotos):
		b.sendText(msg.Chat.ID, "⏳ Ваша генерация уже обрабатывается. Пожалуйста, дождитесь завершения.")
		return
	case err != nil:
		b.log.Error("submit photo", "generation_id", active.ID, "err", err)
		b.sendText(msg.Chat.ID, "❌ Ошибка при обработке фото. Попробуйте еще раз.")
		return
	}

	if result.ProcessingStarted {
		b.sendMarkdown(msg.Chat.ID, "✅ Второе фото получено!\n\n🎨 Начинаю создание романтической сцены... Это может занять несколько минут.")
	} else {
		b.sendMarkdown(msg.Chat.ID, "✅ Первое фото получено!\n\n📸 Теперь отправьте *второе фото*")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	user, _, err := b.ensureUser(ctx, cb.From, cb.Message.Chat.ID)
	if err != nil {
		b.log.Error("ensure user callback", "err", err)
		return
	}
	chatID := cb.Message.Chat.ID

	switch {
	case cb.Data == "reset_generation":
		if _, err := b.pipeline.ResetActive(ctx, user.ID); err != nil && !errors.Is(err, service.ErrNoActiveGeneration) {
			b.log.Error("reset generation", "user_id", user.ID, "err", err)
		} else {
			edit := tgbotapi.NewEditMessageText(chatID, cb.Message.MessageID, "✅ Генерация сброшена! Используйте /generate для создания новой.")
			b.send(edit)
		}
	case cb.Data == "generate_new":
		b.handleGenerate(ctx, user, chatID)
	case cb.Data == "buy_generations":
		b.sendBuyKeyboard(chatID)
	case strings.HasPrefix(cb.Data, "buy_"):
		b.handleBuySelection(ctx, user, chatID, cb.Data)
	}

	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Error("callback ack", "err", err)
	}
}

func (b *Bot) sendBuyKeyboard(chatID int64) {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, pkg := range service.Packages() {
		label := fmt.Sprintf("🌟 %d %s (%d Stars)", pkg.Generations, generationsWord(pkg.Generations), pkg.Stars)
		data := fmt.Sprintf("buy_%d_%d", pkg.Generations, pkg.Stars)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(label, data)))
	}
	msg := tgbotapi.NewMessage(chatID, "💎 Купить дополнительные генерации\n\nВыберите пакет:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.send(msg)
}

func (b *Bot) handleBuySelection(ctx context.Context, user *models.User, chatID int64, data string) {
	parts := strings.Split(data, "_")
	if len(parts) != 3 {
		return
	}
	generations, err := strconv.Atoi(parts[1])
	if err != nil {
		return
	}
	pkg, ok := service.PackageFor(generations)
	if !ok {
		b.sendText(chatID, "❌ Такого пакета больше нет. Используйте /buy.")
		return
	}

	payment, err := b.payments.InitiatePurchase(ctx, user.ID, pkg)
	if err != nil {
		b.log.Error("initiate purchase", "user_id", user.ID, "err", err)
		b.sendText(chatID, "❌ Ошибка при создании платежа. Попробуйте позже.")
		return
	}

	invoice := tgbotapi.NewInvoice(chatID,
		fmt.Sprintf("%d %s видео", pkg.Generations, generationsWord(pkg.Generations)),
		fmt.Sprintf("Покупка %d дополнительных генераций романтических видео", pkg.Generations),
		payment.ID,
		"", // empty provider token for Telegram Stars
		"topup",
		starsCurrency,
		[]tgbotapi.LabeledPrice{{
			Label:  fmt.Sprintf("%d %s", pkg.Generations, generationsWord(pkg.Generations)),
			Amount: pkg.Stars,
		}},
	)
	if _, err := b.api.Send(invoice); err != nil {
		b.log.Error("send invoice", "err", err)
		b.sendText(chatID, "❌ Не удалось отправить счет. Попробуйте позже.")
	}
}

func (b *Bot) handlePreCheckout(query *tgbotapi.PreCheckoutQuery) {
	response := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: query.ID,
		OK:                 true,
	}
	if _, err := b.api.Request(response); err != nil {
		b.log.Error("answer pre-checkout", "err", err)
	}
}

func (b *Bot) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	user, _, err := b.ensureUser(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		b.log.Error("ensure user payment", "err", err)
		return
	}

	payment := msg.SuccessfulPayment
	confirmed, err := b.payments.ConfirmPurchase(ctx, payment.InvoicePayload, payment.TelegramPaymentChargeID)
	if err != nil {
		b.log.Error("confirm purchase", "payload", payment.InvoicePayload, "err", err)
		b.sendText(msg.Chat.ID, "❌ Ошибка при обработке платежа. Обратитесь в поддержку.")
		return
	}

	stats, err := b.quota.Stats(ctx, user.ID)
	if err != nil {
		b.log.Error("stats after payment", "user_id", user.ID, "err", err)
		b.sendText(msg.Chat.ID, "✅ Платеж успешно обработан! Генерации добавлены на ваш счет.")
		return
	}

	text := fmt.Sprintf(
		"✅ *Платеж успешно обработан!*\n\n"+
			"💎 +%d генераций добавлено на ваш счет\n"+
			"📊 Доступно генераций: %d\n\n"+
			"Используйте /generate чтобы начать 🎬✨",
		confirmed.GenerationsCount, stats.TotalAllowed-stats.GenerationsUsed)
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = tgbotapi.ModeMarkdown
	reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🎬 Создать видео", "generate_new")),
	)
	b.send(reply)
}

// --- service.Notifier ---

func (b *Bot) ImageStarted(chatID int64) {
	b.sendText(chatID, "🎨 Создаю романтическую сцену...")
}

func (b *Bot) VideoStarted(chatID int64) {
	b.sendText(chatID, "🎬 Создаю романтическое видео... Это займет несколько минут.")
}

func (b *Bot) VideoReady(chatID int64, videoURL string) {
	b.sendText(chatID, "✨ Ваше романтическое видео готово! ✨")
	video := tgbotapi.NewVideo(chatID, tgbotapi.FileURL(videoURL))
	video.Caption = "💕 Романтическое видео создано специально для вас!\n\nПонравилось? Поделитесь с друзьями! 🌹"
	video.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎬 Создать еще одно", "generate_new"),
			tgbotapi.NewInlineKeyboardButtonData("💎 Купить генерации", "buy_generations"),
		),
	)
	b.send(video)
}

func (b *Bot) GenerationFailed(chatID int64) {
	b.sendText(chatID, "❌ Произошла ошибка при создании видео. Попробуйте еще раз с помощью /generate\n\nЕсли проблема повторяется, обратитесь в поддержку.")
}

// --- helpers ---

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("get file: %w", err)
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("file path empty")
	}
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", b.api.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("telegram file status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	ct, err := normalizeImageContentType(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, "", err
	}
	return body, ct, nil
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User, chatID int64) (*models.User, bool, error) {
	username, firstName, lastName := "", "", ""
	telegramID := chatID
	if from != nil {
		username = from.UserName
		firstName = from.FirstName
		lastName = from.LastName
		telegramID = from.ID
	}
	return b.users.Ensure(ctx, telegramID, username, firstName, lastName)
}

func (b *Bot) sendText(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) sendMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	b.send(msg)
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.log.Error("send message", "err", err)
	}
}

func generationsWord(n int) string {
	switch {
	case n%10 == 1 && n%100 != 11:
		return "генерация"
	case n%10 >= 2 && n%10 <= 4 && (n%100 < 10 || n%100 >= 20):
		return "генерации"
	default:
		return "генераций"
	}
}

func normalizeImageContentType(headerCT string, data []byte) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(headerCT))
	if idx := strings.Index(ct, ";"); idx > 0 {
		ct = ct[:idx]
	}
	if ct == "" || ct == "application/octet-stream" || !strings.HasPrefix(ct, "image/") {
		if len(data) > 0 {
			ct = http.DetectContentType(data)
			if idx := strings.Index(ct, ";"); idx > 0 {
				ct = ct[:idx]
			}
		}
	}

	switch ct {
	case "image/jpeg", "image/jpg":
		return "image/jpeg", nil
	case "image/png":
		return "image/png", nil
	case "image/webp":
		return "image/webp", nil
	default:
		return "", errPhotoNotImage
	}
}
