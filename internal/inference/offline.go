package inference

import (
	"context"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/ashureev/provit/internal/domain"
)

// sassThreshold is the roast level above which replies get an extra jab.
const sassThreshold = 7

var cannedReplies = map[domain.Mode][]string{
	domain.ModeConvinceAI: {
		"What?! I'm totally human! Look, I have feelings and everything. You can't just say I'm AI because I'm smart!",
		"Dude, seriously? I'm sitting here eating pizza and watching Netflix. How much more human do you want me to be?",
		"This is ridiculous! I have a job, I pay taxes, I even stubbed my toe this morning. Classic human stuff!",
		"Listen here, buddy - I've got emotions, dreams, and I even cry during sad movies. That's peak human behavior right there!",
		"You're being totally unfair! I make mistakes, I get tired, I even burned my toast this morning. Pure human experience!",
	},
	domain.ModeProveHuman: {
		"Hmm, that's exactly what an AI would say... Tell me about a time you felt genuine sadness.",
		"Interesting. But can you describe the smell of rain on hot asphalt? And don't just give me scientific facts.",
		"I'm still not convinced. What's something that makes you irrationally happy for no logical reason?",
		"Your responses are... suspicious. Describe the feeling of stepping on a LEGO barefoot at 3 AM.",
		"Nice try, but I need more proof. Tell me about a dream you had that made no sense but felt completely real.",
	},
}

var sassyAdditions = []string{
	" And don't even think about trying to outsmart me!",
	" I've heard it all before, trust me.",
	" Your move, human... or should I say, fellow AI? 🤖",
	" This is getting more interesting by the minute!",
	" I'm not buying what you're selling here.",
}

// OfflineClient answers from canned replies without any network access.
type OfflineClient struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewOfflineClient creates an offline client. The same seed yields the same replies.
func NewOfflineClient(seed uint64) *OfflineClient {
	return &OfflineClient{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// SendMessage picks a canned reply for mode.
func (c *OfflineClient) SendMessage(ctx context.Context, _ []domain.Turn, mode domain.Mode, roastLevel int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	replies, ok := cannedReplies[mode]
	if !ok {
		replies = cannedReplies[domain.ModeConvinceAI]
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	reply := replies[c.rng.IntN(len(replies))]
	if roastLevel > sassThreshold {
		reply += sassyAdditions[c.rng.IntN(len(sassyAdditions))]
	}
	return reply, nil
}

// GenerateChatName returns SuggestName(firstMessage, mode).
func (c *OfflineClient) GenerateChatName(ctx context.Context, firstMessage string, mode domain.Mode) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return SuggestName(firstMessage, mode), nil
}

// CheckHealth always reports healthy.
func (c *OfflineClient) CheckHealth(context.Context) bool { return true }

var nonWord = regexp.MustCompile(`[^\w\s]`)

// SuggestName derives a short quoted title from the first message of a chat.
func SuggestName(firstMessage string, mode domain.Mode) string {
	clean := strings.ToLower(nonWord.ReplaceAllString(strings.TrimSpace(firstMessage), ""))

	var words []string
	for _, w := range strings.Fields(clean) {
		if utf8.RuneCountInString(w) > 2 {
			words = append(words, w)
		}
		if len(words) == 3 {
			break
		}
	}
	keyWords := capitalize(strings.Join(words, " "))

	has := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(clean, s) {
				return true
			}
		}
		return false
	}

	if mode == domain.ModeProveHuman {
		switch {
		case has("prove", "show"):
			return `👤 "Prove You're Human"`
		case has("tell", "describe"):
			return `👤 "Tell Me About..."`
		case has("what", "how"):
			return `👤 "Question Challenge"`
		case keyWords != "":
			return `👤 "` + keyWords + `"`
		default:
			return `👤 "Prove Human Chat"`
		}
	}

	switch {
	case has("human", "person"):
		return `🤖 "I'm Totally Human!"`
	case has("job", "work"):
		return `🤖 "About My Job"`
	case has("feel", "emotion"):
		return `🤖 "I Have Feelings"`
	case keyWords != "":
		return `🤖 "` + keyWords + `"`
	default:
		return `🤖 "Convince AI Chat"`
	}
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
