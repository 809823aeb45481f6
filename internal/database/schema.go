package database

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
    id CHAR(36) PRIMARY KEY,
    email VARCHAR(255) NOT NULL UNIQUE,
    subscription_plan VARCHAR(16),
    subscription_status VARCHAR(16),
    credits INT NOT NULL DEFAULT 0,
    credits_extras INT NOT NULL DEFAULT 0,
    subscription_id VARCHAR(128),
    subscription_current_period_start TIMESTAMP NULL,
    subscription_current_period_end TIMESTAMP NULL,
    account_status VARCHAR(16) NOT NULL DEFAULT 'active',
    stripe_customer_id VARCHAR(128),
    trial_used TINYINT(1) NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    KEY idx_profiles_customer (stripe_customer_id),
    KEY idx_profiles_subscription (subscription_id)
);

CREATE TABLE IF NOT EXISTS audit_log (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id CHAR(36) NOT NULL,
    action VARCHAR(48) NOT NULL,
    external_id VARCHAR(128),
    details TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    KEY idx_audit_idempotency (user_id, action, external_id),
    FOREIGN KEY (user_id) REFERENCES profiles(id)
);

CREATE TABLE IF NOT EXISTS pricing_plans (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    plan_key VARCHAR(16) NOT NULL UNIQUE,
    title VARCHAR(64) NOT NULL,
    plan_rank INT NOT NULL,
    credits INT NOT NULL,
    trial_credits INT NOT NULL DEFAULT 0,
    price_minor_units INT NOT NULL,
    currency VARCHAR(8) NOT NULL,
    stripe_price_id VARCHAR(128),
    is_active TINYINT(1) NOT NULL DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS generations (
    id CHAR(36) PRIMARY KEY,
    user_id CHAR(36) NOT NULL,
    tool VARCHAR(24) NOT NULL,
    node_id VARCHAR(64) NOT NULL,
    vendor_task VARCHAR(128),
    status VARCHAR(16) NOT NULL,
    result_url TEXT,
    error TEXT,
    credits_used INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    KEY idx_generations_active (user_id, tool, status),
    FOREIGN KEY (user_id) REFERENCES profiles(id)
);

CREATE TABLE IF NOT EXISTS promo_codes (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    code VARCHAR(64) NOT NULL UNIQUE,
    credits INT NOT NULL,
    max_uses INT NOT NULL,
    uses INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS promo_redemptions (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id CHAR(36) NOT NULL,
    promo_code_id BIGINT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_user_promo (user_id, promo_code_id),
    FOREIGN KEY (user_id) REFERENCES profiles(id),
    FOREIGN KEY (promo_code_id) REFERENCES promo_codes(id)
);
`
