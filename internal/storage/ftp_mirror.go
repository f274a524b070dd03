package storage

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jlaffaye/ftp"
)

// MirrorConfig holds the optional FTP delivery-host mirror settings. The
// mirror is disabled when Host is empty.
type MirrorConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Path     string
}

func (c MirrorConfig) Enabled() bool {
	return c.Host != ""
}

// MirrorArtifact uploads a finished artifact to the delivery host over FTP.
// Best-effort: callers log a failure but never fail the job over it.
func MirrorArtifact(cfg MirrorConfig, localPath, filename string) error {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return fmt.Errorf("FTP connection failed: %v", err)
	}
	defer conn.Quit()

	if err := conn.Login(cfg.User, cfg.Password); err != nil {
		return fmt.Errorf("FTP login failed: %v", err)
	}

	if cfg.Path != "" && cfg.Path != "/" {
		if err := conn.ChangeDir(cfg.Path); err != nil {
			conn.MakeDir(cfg.Path)
			if err := conn.ChangeDir(cfg.Path); err != nil {
				return fmt.Errorf("FTP directory change failed: %v", err)
			}
		}
	}

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %v", err)
	}
	defer file.Close()

	if err := conn.Stor(filename, file); err != nil {
		return fmt.Errorf("FTP upload failed: %v", err)
	}

	log.Printf("Mirror: uploaded %s to FTP %s", filename, cfg.Host)
	return nil
}
