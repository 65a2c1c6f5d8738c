// secretctl 把交易所 API 凭证写入（或读出）加密 Badger 密钥库。
//
//	secretctl genkey
//	secretctl import -in .env -db data/secrets.badger
//	secretctl show -db data/secrets.badger
package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/betbot/spotmm/pkg/secretstore"
)

const (
	envAPIKey    = "SPOTMM_API_KEY"
	envAPISecret = "SPOTMM_API_SECRET"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "genkey":
		err = genKey()
	case "import":
		err = importCredentials(os.Args[2:])
	case "show":
		err = showCredentials(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: secretctl <genkey|import|show> [flags]")
}

func genKey() error {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(key))
	return nil
}

func storeFlags(fs *flag.FlagSet) (dbPath, secretKey *string) {
	dbPath = fs.String("db", getenv("SPOTMM_SECRETS_PATH", "data/secrets.badger"), "badger secrets db path")
	secretKey = fs.String("secret-key", getenv("SPOTMM_SECRETS_KEY", ""), "badger encryption key (32 bytes hex/base64)")
	return dbPath, secretKey
}

func openStore(dbPath, secretKey string, readOnly bool) (*secretstore.Store, error) {
	key, err := secretstore.ParseKey(secretKey)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, errors.New("secret key is required: set SPOTMM_SECRETS_KEY or pass -secret-key")
	}
	return secretstore.Open(secretstore.OpenOptions{
		Path:          dbPath,
		EncryptionKey: key,
		ReadOnly:      readOnly,
	})
}

func importCredentials(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	inPath := fs.String("in", ".env", "input .env file path")
	dbPath, secretKey := storeFlags(fs)
	_ = fs.Parse(args)

	kv, err := godotenv.Read(*inPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", *inPath, err)
	}
	creds := secretstore.Credentials{
		APIKey:    strings.TrimSpace(kv[envAPIKey]),
		APISecret: strings.TrimSpace(kv[envAPISecret]),
	}
	if !creds.Complete() {
		return fmt.Errorf("%s 中缺少 %s 或 %s", *inPath, envAPIKey, envAPISecret)
	}

	ss, err := openStore(*dbPath, *secretKey, false)
	if err != nil {
		return err
	}
	defer ss.Close()
	if err := ss.SaveCredentials(creds); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "已写入 API 凭证到 badger：%s（key=%s）\n", *dbPath, mask(creds.APIKey))
	return nil
}

func showCredentials(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	dbPath, secretKey := storeFlags(fs)
	_ = fs.Parse(args)

	ss, err := openStore(*dbPath, *secretKey, true)
	if err != nil {
		return err
	}
	defer ss.Close()
	creds, err := ss.LoadCredentials()
	if err != nil {
		return err
	}
	fmt.Printf("api_key:    %s\napi_secret: %s\n", mask(creds.APIKey), mask(creds.APISecret))
	return nil
}

// mask 只显示首尾各 4 个字符
func mask(s string) string {
	if s == "" {
		return "(empty)"
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
