package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	GigaChat GigaChatConfig
	Scraper  ScraperConfig
	PDF      PDFConfig
	OCR      OCRConfig
	RAG      RAGConfig
	Paths    PathsConfig
	Logger   LoggerConfig
}

type LoggerConfig struct {
	Level string
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type GigaChatConfig struct {
	APIKey             string
	Scope              string
	Model              string
	InsecureSkipVerify bool
}

type ScraperConfig struct {
	DefaultURLs []string
	UserAgent   string
	Timeout     time.Duration
}

type PDFConfig struct {
	// Subdirectories of Paths.PDFDir scanned by default (e.g. Book, Article).
	Folders []string
	// Minimum extracted characters per page for a PDF to count as
	// text-bearing. Below this the document is routed to OCR.
	MinCharsPerPage int
}

type OCRConfig struct {
	// Tesseract language packs, e.g. chi_sim and eng.
	Languages []string
}

type RAGConfig struct {
	EmbeddingModel string
	ChunkSize      int
	ChunkOverlap   int
	TopK           int
	Temperature    float32
}

// PathsConfig holds the three normalized-text locations consumed by the
// chunker plus the PDF source directory.
type PathsConfig struct {
	RawDir       string
	ProcessedDir string
	OCRDir       string
	PDFDir       string
}

func Load() (*Config, error) {
	// Try to load .env file from current directory or project root
	envFiles := []string{".env", "../.env", "../../.env"}
	for _, envFile := range envFiles {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}
	// No .env file is fine, environment variables are used directly
	// (useful for Docker/K8s).

	readTimeout, _ := strconv.Atoi(getEnv("SERVER_READ_TIMEOUT", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("SERVER_WRITE_TIMEOUT", "60"))
	scrapeTimeout, _ := strconv.Atoi(getEnv("SCRAPER_TIMEOUT", "30"))
	minCharsPerPage, _ := strconv.Atoi(getEnv("PDF_MIN_CHARS_PER_PAGE", "50"))
	chunkSize, _ := strconv.Atoi(getEnv("RAG_CHUNK_SIZE", "400"))
	chunkOverlap, _ := strconv.Atoi(getEnv("RAG_CHUNK_OVERLAP", "50"))
	ragTopK, _ := strconv.Atoi(getEnv("RAG_TOP_K", "5"))
	temperature, _ := strconv.ParseFloat(getEnv("RAG_TEMPERATURE", "0.7"), 32)
	insecureSkipVerify := getEnv("GIGACHAT_INSECURE_SKIP_VERIFY", "true") == "true"

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "5000"),
			ReadTimeout:  time.Duration(readTimeout) * time.Second,
			WriteTimeout: time.Duration(writeTimeout) * time.Second,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "rag_honglou"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		GigaChat: GigaChatConfig{
			APIKey:             getEnv("GIGACHAT_API_KEY", ""),
			Scope:              getEnv("GIGACHAT_SCOPE", "GIGACHAT_API_PERS"),
			Model:              getEnv("GIGACHAT_MODEL", "GigaChat"),
			InsecureSkipVerify: insecureSkipVerify,
		},
		Scraper: ScraperConfig{
			DefaultURLs: splitList(getEnv("SCRAPER_URLS", defaultSiteList)),
			UserAgent:   getEnv("SCRAPER_USER_AGENT", "Mozilla/5.0 (compatible; rag-honglou/1.0)"),
			Timeout:     time.Duration(scrapeTimeout) * time.Second,
		},
		PDF: PDFConfig{
			Folders:         splitList(getEnv("PDF_FOLDERS", "Book,Article")),
			MinCharsPerPage: minCharsPerPage,
		},
		OCR: OCRConfig{
			Languages: splitList(getEnv("OCR_LANGUAGES", "chi_sim,eng")),
		},
		RAG: RAGConfig{
			EmbeddingModel: getEnv("RAG_EMBEDDING_MODEL", "Embeddings"),
			ChunkSize:      chunkSize,
			ChunkOverlap:   chunkOverlap,
			TopK:           ragTopK,
			Temperature:    float32(temperature),
		},
		Paths: PathsConfig{
			RawDir:       getEnv("DATA_RAW_DIR", "data/raw"),
			ProcessedDir: getEnv("DATA_PROCESSED_DIR", "data/processed"),
			OCRDir:       getEnv("DATA_OCR_DIR", "data/ocr"),
			PDFDir:       getEnv("DATA_PDF_DIR", "data/pdfs"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}, nil
}

const defaultSiteList = "https://zh.wikisource.org/wiki/%E7%B4%85%E6%A8%93%E5%A4%A2," +
	"https://zh.wikipedia.org/wiki/%E7%BA%A2%E6%A5%BC%E6%A2%A6"

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}
